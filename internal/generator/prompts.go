package generator

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	styleWindow = 100
	replyWindow = 10
)

// chronological returns the newest n messages, oldest first.
func chronological(msgs []Message, n int) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func speaker(m Message, contactName string) string {
	if m.FromMe {
		return "You"
	}
	return contactName
}

func buildStylePrompt(contactName string, msgs []Message) string {
	var lines []string
	for _, m := range chronological(msgs, styleWindow) {
		date := time.Unix(m.Timestamp, 0).Format("2006-01-02 15:04")
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", date, speaker(m, contactName), m.Body))
	}

	return fmt.Sprintf(`Analyze the communication style of %[1]s based on the last %[2]d messages.

Messages:
%[3]s

Provide a detailed style profile including:
- Typical message length (short/medium/long)
- Formality level (casual/neutral/formal)
- Emoji usage frequency (none/low/medium/high)
- Response patterns (quick/delayed, terse/verbose)
- Common phrases or expressions
- Conversation topics and interests
- Emotional tone (warm/neutral/professional)

Return your analysis as a JSON object with the following structure:
{
  "messageLength": "short" | "medium" | "long",
  "formalityLevel": "casual" | "neutral" | "formal",
  "emojiUsage": "none" | "low" | "medium" | "high",
  "responseSpeed": "quick" | "delayed",
  "responseStyle": "terse" | "verbose",
  "commonPhrases": ["phrase1", "phrase2"],
  "topics": ["topic1", "topic2"],
  "emotionalTone": "warm" | "neutral" | "professional",
  "summary": "brief summary of overall communication style"
}`, contactName, styleWindow, strings.Join(lines, "\n"))
}

func buildReplyPrompt(contactName, styleProfile string, msgs []Message, context string) string {
	var lines []string
	for _, m := range chronological(msgs, replyWindow) {
		lines = append(lines, fmt.Sprintf("%s: %s", speaker(m, contactName), m.Body))
	}

	return fmt.Sprintf(`Generate an automatic response to %[1]s.

Style Profile:
%[2]s

Recent Conversation:
%[3]s

Context: %[4]s

Generate a single, natural response that:
1. Matches %[1]s's communication style
2. Addresses their most recent message appropriately
3. Maintains conversation flow
4. Is contextually appropriate

Return as JSON:
{
  "message": "the response message",
  "confidence": number between 0-1,
  "reasoning": "brief explanation"
}`, contactName, styleProfile, strings.Join(lines, "\n"), context)
}
