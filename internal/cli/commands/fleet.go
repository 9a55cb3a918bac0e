package commands

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/spf13/cobra"
)

type triggerReply struct {
	JobID      string `json:"job_id"`
	Automation string `json:"automation"`
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <automation>",
	Short: "Trigger one automation run at elevated priority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply triggerReply
		path := fmt.Sprintf("/api/v1/automations/%s/trigger", url.PathEscape(args[0]))
		if err := doJSON("POST", path, &reply); err != nil {
			return err
		}

		fmt.Printf("Triggered %s (job %s)\n", reply.Automation, reply.JobID)
		return nil
	},
}

type queueStats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show state counts for every automation queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats := map[string]queueStats{}
		if err := doJSON("GET", "/api/v1/queues/stats", &stats); err != nil {
			return err
		}

		names := make([]string, 0, len(stats))
		for name := range stats {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("%-20s %8s %8s %8s %10s %8s\n", "QUEUE", "WAITING", "DELAYED", "ACTIVE", "COMPLETED", "FAILED")
		for _, name := range names {
			s := stats[name]
			fmt.Printf("%-20s %8d %8d %8d %10d %8d\n", name, s.Waiting, s.Delayed, s.Active, s.Completed, s.Failed)
		}
		return nil
	},
}

type connectionEntry struct {
	AgentID string `json:"agent_id"`
	Info    struct {
		Connected bool   `json:"connected"`
		Secure    bool   `json:"secure"`
		Since     string `json:"since"`
	} `json:"info"`
}

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List currently connected agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		var conns []connectionEntry
		if err := doJSON("GET", "/api/v1/agents/connections", &conns); err != nil {
			return err
		}

		if len(conns) == 0 {
			fmt.Println("No agents connected")
			return nil
		}

		fmt.Printf("%-40s %-8s %s\n", "AGENT", "SECURE", "SINCE")
		for _, c := range conns {
			fmt.Printf("%-40s %-8t %s\n", c.AgentID, c.Info.Secure, c.Info.Since)
		}
		return nil
	},
}

type broadcastReply struct {
	Notified int `json:"notified"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

var updateAllCmd = &cobra.Command{
	Use:   "update-all",
	Short: "Push an update notification to every connected agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		path := "/api/v1/agents/update-all"
		if force {
			path += "?force=true"
		}

		var reply broadcastReply
		if err := doJSON("POST", path, &reply); err != nil {
			return err
		}

		fmt.Printf("Update notifications: %d notified, %d failed, %d connected\n", reply.Notified, reply.Failed, reply.Total)
		return nil
	},
}

func init() {
	updateAllCmd.Flags().Bool("force", false, "notify agents even when already up to date")
}
