package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adaofeliz/whatsapp-agent-web/internal/api"
	"github.com/adaofeliz/whatsapp-agent-web/internal/autoreply"
	"github.com/adaofeliz/whatsapp-agent-web/internal/config"
	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
)

// --- poll ---

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one poll cycle now and print its summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var sum autoreply.CycleSummary
		if err := client.call(cmd.Context(), "POST", "/api/auto-response/poll", nil, &sum); err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return printJSON(sum)
		}
		printSummary(sum)
		return nil
	},
}

func init() {
	pollCmd.Flags().Bool("json", false, "print the raw cycle summary")
}

func printSummary(sum autoreply.CycleSummary) {
	printSuccess("Cycle %s: %d checked, %d sent, %d queued, %d skipped, %d failed",
		shortID(sum.CycleID), sum.Checked, sum.Sent, sum.Queued, sum.Skipped, sum.Failed)
	for _, r := range sum.Results {
		line := fmt.Sprintf("%s  %-8s %s", colorize(colorCyan, r.ChatJID), r.Outcome, r.Reason)
		if r.Error != "" {
			line += "  " + colorize(colorRed, r.Error)
		}
		fmt.Println(line)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Review proposed replies awaiting approval",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval queue items, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("status", status)
		q.Set("limit", strconv.Itoa(limit))

		var result struct {
			Items []api.QueueEntry `json:"items"`
		}
		if err := client.call(cmd.Context(), "GET", "/api/auto-response/queue?"+q.Encode(), nil, &result); err != nil {
			return err
		}

		if len(result.Items) == 0 {
			fmt.Println("Approval queue is empty.")
			return nil
		}
		for _, e := range result.Items {
			who := e.ChatJID
			if e.Contact != nil {
				who = e.Contact.DisplayName()
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorBold, fmt.Sprintf("#%d", e.ID)),
				colorize(colorCyan, who),
				e.CreatedAt.Local().Format(time.DateTime),
			)
			if e.Message != nil {
				fmt.Printf("  < %s\n", truncate(e.Message.Text, 120))
			}
			fmt.Printf("  > %s\n", truncate(e.ProposedResponse, 120))
		}
		return nil
	},
}

func resolveQueueItem(ctx context.Context, id int64, action autoreply.Action, editedText *string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	body := map[string]any{"id": id, "action": string(action)}
	if editedText != nil {
		body["editedText"] = *editedText
	}

	var result struct {
		MessageID string `json:"messageId"`
		Warning   string `json:"warning"`
	}
	if err := client.call(ctx, "POST", "/api/auto-response/queue", body, &result); err != nil {
		return err
	}
	if result.Warning != "" {
		printWarning("%s", result.Warning)
	}
	if action == autoreply.ActionApprove {
		printSuccess("Approved #%d, sent as %s", id, result.MessageID)
	} else {
		printSuccess("Rejected #%d", id)
	}
	return nil
}

var queueApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve and send a proposed reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid queue id %q", args[0])
		}
		var edited *string
		if cmd.Flags().Changed("edit") {
			text, _ := cmd.Flags().GetString("edit")
			edited = &text
		}
		return resolveQueueItem(cmd.Context(), id, autoreply.ActionApprove, edited)
	},
}

var queueRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a proposed reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid queue id %q", args[0])
		}
		return resolveQueueItem(cmd.Context(), id, autoreply.ActionReject, nil)
	},
}

var queueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one queue item in any status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid queue id %q", args[0])
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result struct {
			Item api.QueueEntry `json:"item"`
		}
		if err := client.call(cmd.Context(), "GET", "/api/auto-response/queue/"+args[0], nil, &result); err != nil {
			return err
		}

		e := result.Item
		who := e.ChatJID
		if e.Contact != nil {
			who = e.Contact.DisplayName()
		}
		printStatus("Item", "#%d (%s)", id, e.Status)
		printStatus("Chat", "%s", who)
		printStatus("Created", "%s", e.CreatedAt.Local().Format(time.DateTime))
		printStatus("Expires", "%s", e.ExpiresAt.Local().Format(time.DateTime))
		if e.ResolvedAt != nil {
			printStatus("Resolved", "%s", e.ResolvedAt.Local().Format(time.DateTime))
		}
		if e.Message != nil {
			printStatus("Message", "%s", e.Message.Text)
		}
		printStatus("Reply", "%s", e.ProposedResponse)
		return nil
	},
}

func init() {
	queueListCmd.Flags().String("status", storage.StatusPending, "pending, approved, rejected or expired")
	queueListCmd.Flags().Int("limit", 50, "maximum number of items")
	queueApproveCmd.Flags().String("edit", "", "send this text instead of the proposal")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueShowCmd)
	queueCmd.AddCommand(queueApproveCmd)
	queueCmd.AddCommand(queueRejectCmd)
}

// --- log ---

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List delivered replies, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		chat, _ := cmd.Flags().GetString("chat")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		if chat != "" {
			q.Set("chatJid", chat)
		}
		q.Set("limit", strconv.Itoa(limit))

		var result struct {
			Entries []storage.LogEntry `json:"entries"`
		}
		if err := client.call(cmd.Context(), "GET", "/api/auto-response/log?"+q.Encode(), nil, &result); err != nil {
			return err
		}

		if len(result.Entries) == 0 {
			fmt.Println("No replies sent yet.")
			return nil
		}
		for _, e := range result.Entries {
			how := "auto"
			if e.Approved {
				how = "approved"
			}
			fmt.Printf("%s  %s  %-8s  %s\n",
				e.CreatedAt.Local().Format(time.DateTime),
				colorize(colorCyan, e.ChatJID),
				how,
				shortID(e.ResponseMessageID),
			)
		}
		return nil
	},
}

func init() {
	logCmd.Flags().String("chat", "", "only replies to this chat JID")
	logCmd.Flags().Int("limit", 50, "maximum number of entries")
}

// --- autoreply ---

var autoreplyCmd = &cobra.Command{
	Use:   "autoreply",
	Short: "Show or change per-chat auto-reply policy",
}

var autoreplyShowCmd = &cobra.Command{
	Use:   "show [chat-jid]",
	Short: "Show auto-reply config for one chat or all chats",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/api/settings/auto-response"
		if len(args) == 1 {
			path += "?chatJid=" + url.QueryEscape(args[0])
		}

		var result struct {
			Config  *storage.ChatConfig  `json:"config"`
			Configs []storage.ChatConfig `json:"configs"`
		}
		if err := client.call(cmd.Context(), "GET", path, nil, &result); err != nil {
			return err
		}
		if result.Config != nil {
			return printJSON(result.Config)
		}
		if len(result.Configs) == 0 {
			fmt.Println("No chats configured.")
			return nil
		}
		for _, c := range result.Configs {
			limit := "unlimited"
			if c.MaxDailyResponses != nil {
				limit = strconv.Itoa(*c.MaxDailyResponses)
			}
			fmt.Printf("%s  enabled=%s approval=%s today=%d/%s window=%d\n",
				colorize(colorCyan, c.ChatJID), onOff(c.Enabled), onOff(c.RequireApproval),
				c.DailyResponseCount, limit, c.ContextWindowMessages)
		}
		return nil
	},
}

var autoreplySetCmd = &cobra.Command{
	Use:   "set <chat-jid>",
	Short: "Create or update auto-reply config for a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"chatJid": args[0]}
		flags := cmd.Flags()
		if flags.Changed("enabled") {
			v, _ := flags.GetBool("enabled")
			body["enabled"] = v
		}
		if flags.Changed("require-approval") {
			v, _ := flags.GetBool("require-approval")
			body["requireApproval"] = v
		}
		if flags.Changed("max-daily") {
			v, _ := flags.GetInt("max-daily")
			if v < 0 {
				body["maxDailyResponses"] = nil
			} else {
				body["maxDailyResponses"] = v
			}
		}
		if flags.Changed("context-window") {
			v, _ := flags.GetInt("context-window")
			body["contextWindowMessages"] = v
		}
		if len(body) == 1 {
			return errors.New("nothing to change: pass at least one of --enabled, --require-approval, --max-daily, --context-window")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result struct {
			Config storage.ChatConfig `json:"config"`
		}
		if err := client.call(cmd.Context(), "POST", "/api/settings/auto-response", body, &result); err != nil {
			return err
		}
		printSuccess("Updated %s", result.Config.ChatJID)
		return nil
	},
}

func init() {
	autoreplySetCmd.Flags().Bool("enabled", false, "enable auto-replies for the chat")
	autoreplySetCmd.Flags().Bool("require-approval", true, "queue every reply for approval")
	autoreplySetCmd.Flags().Int("max-daily", -1, "daily autonomous send cap (negative clears it)")
	autoreplySetCmd.Flags().Int("context-window", 10, "messages of history given to the model (1-100)")
	autoreplyCmd.AddCommand(autoreplyShowCmd)
	autoreplyCmd.AddCommand(autoreplySetCmd)
}

// --- killswitch ---

var killswitchCmd = &cobra.Command{
	Use:       "killswitch [on|off]",
	Short:     "Show or set the global auto-reply switch",
	Long:      "With no argument, prints whether auto-replies are globally enabled. \"off\" stops all processing; \"on\" resumes it.",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var global struct {
			Enabled       bool `json:"enabled"`
			PollerRunning bool `json:"pollerRunning"`
		}
		if len(args) == 0 {
			if err := client.call(cmd.Context(), "GET", "/api/settings/auto-response/global", nil, &global); err != nil {
				return err
			}
			printStatus("Auto-reply", "%s", onOff(global.Enabled))
			return nil
		}

		var enabled bool
		switch strings.ToLower(args[0]) {
		case "on":
			enabled = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		if err := client.call(cmd.Context(), "PUT", "/api/settings/auto-response/global", map[string]any{"enabled": enabled}, &global); err != nil {
			return err
		}
		printSuccess("Auto-reply globally %s", onOff(global.Enabled))
		return nil
	},
}

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send <to> <message>",
	Short: "Send a WhatsApp message through wacli",
	Long: `Send a WhatsApp message through wacli.

<to> is a phone number (digits, optional leading +) or a full JID.

Examples:
  waagent send +15551234567 "On my way"
  waagent send 15551234567@s.whatsapp.net "Running late"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"to": args[0], "message": strings.Join(args[1:], " ")}
		var result struct {
			MessageID string `json:"messageId"`
			Warning   string `json:"warning"`
		}
		if err := client.call(cmd.Context(), "POST", "/api/messages/send", body, &result); err != nil {
			return err
		}
		if result.Warning != "" {
			printWarning("%s", result.Warning)
		}
		printSuccess("Sent %s", result.MessageID)
		return nil
	},
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the server with the operator tools on MCP stdio",
	Long: `Run the server with the operator tools on MCP stdio.

This is serve --mcp: the HTTP API, the poller and the MCP tools share one
process and one sync daemon. It refuses to start while another waagent
server is running. The server exits when the MCP client closes stdin.
Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(true)
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		printStatus("File", "%s", config.ConfigFilePath())
		printStatus("OpenRouter key", "%s", setOrUnset(cfg.OpenRouter.APIKey))
		printStatus("API token", "%s", setOrUnset(cfg.API.Token))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a persisted value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func setOrUnset(v string) string {
	if v == "" {
		return "unset"
	}
	return "set"
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
