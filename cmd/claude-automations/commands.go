package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/claude-automations/internal/domain"
	"github.com/hochfrequenz/claude-automations/web/api"
)

var (
	createFile string
	runsLimit  int
	triggerPID string
)

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List automations",
		RunE:  runList,
	}
	rootCmd.AddCommand(listCmd)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an automation from a YAML file",
		RunE:  runCreate,
	}
	createCmd.Flags().StringVarP(&createFile, "file", "f", "", "automation definition (YAML)")
	createCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(createCmd)

	runsCmd := &cobra.Command{
		Use:   "runs [AUTOMATION-ID]",
		Short: "Show run history",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRuns,
	}
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(runsCmd)

	triggerCmd := &cobra.Command{
		Use:   "trigger AUTOMATION-ID",
		Short: "Fire an automation now",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrigger,
	}
	triggerCmd.Flags().StringVar(&triggerPID, "project", "", "only this project (default: all targets)")
	rootCmd.AddCommand(triggerCmd)

	stopCmd := &cobra.Command{
		Use:   "stop RUN-ID",
		Short: "Stop a running run",
		Args:  cobra.ExactArgs(1),
		RunE:  runStop,
	}
	rootCmd.AddCommand(stopCmd)

	enableCmd := &cobra.Command{
		Use:   "enable AUTOMATION-ID",
		Short: "Enable an automation",
		Args:  cobra.ExactArgs(1),
		RunE:  toggleFunc(true),
	}
	rootCmd.AddCommand(enableCmd)

	disableCmd := &cobra.Command{
		Use:   "disable AUTOMATION-ID",
		Short: "Disable an automation",
		Args:  cobra.ExactArgs(1),
		RunE:  toggleFunc(false),
	}
	rootCmd.AddCommand(disableCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete AUTOMATION-ID",
		Short: "Delete an automation and its run history",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	rootCmd.AddCommand(deleteCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var automations []api.AutomationResponse
	if err := client.get("/api/automations", &automations); err != nil {
		return err
	}
	if len(automations) == 0 {
		fmt.Println("No automations defined")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTRIGGER\tENABLED\tNEXT RUN")
	for _, a := range automations {
		next := "-"
		if a.NextRun != nil {
			if t, err := time.Parse(time.RFC3339, *a.NextRun); err == nil {
				next = humanize.Time(t)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", a.ID, a.Name, a.Trigger.Type, a.Enabled, next)
	}
	return w.Flush()
}

// automationFile is the YAML shape accepted by `create -f`
type automationFile struct {
	Name     string   `yaml:"name"`
	Prompt   string   `yaml:"prompt"`
	Projects []string `yaml:"projects"`
	Trigger  struct {
		Type            string   `yaml:"type"`
		Cron            string   `yaml:"cron"`
		Filter          string   `yaml:"filter"`
		Kind            string   `yaml:"kind"`
		Patterns        []string `yaml:"patterns"`
		CooldownSeconds int      `yaml:"cooldownSeconds"`
	} `yaml:"trigger"`
	Enabled        *bool  `yaml:"enabled"`
	BaseBranch     string `yaml:"baseBranch"`
	TimeoutMinutes int    `yaml:"timeoutMinutes"`
}

func runCreate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(createFile)
	if err != nil {
		return err
	}
	var f automationFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing %s: %w", createFile, err)
	}

	enabled := true
	if f.Enabled != nil {
		enabled = *f.Enabled
	}
	a := domain.Automation{
		Name:       f.Name,
		Prompt:     f.Prompt,
		ProjectIDs: f.Projects,
		Trigger: domain.Trigger{
			Type:            domain.TriggerType(f.Trigger.Type),
			Cron:            f.Trigger.Cron,
			Filter:          f.Trigger.Filter,
			Kind:            domain.GitEventKind(f.Trigger.Kind),
			Patterns:        f.Trigger.Patterns,
			CooldownSeconds: f.Trigger.CooldownSeconds,
		},
		Enabled:        enabled,
		BaseBranch:     f.BaseBranch,
		TimeoutMinutes: f.TimeoutMinutes,
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	var created api.AutomationResponse
	if err := client.post("/api/automations", a, &created); err != nil {
		return err
	}
	fmt.Printf("Created automation %s (%s)\n", created.Name, created.ID)
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/runs?limit=%d", runsLimit)
	if len(args) == 1 {
		path += "&automation=" + args[0]
	}
	var runs []domain.Run
	if err := client.get(path, &runs); err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tAUTOMATION\tPROJECT\tSTATUS\tSTARTED\tRESULT")
	for _, r := range runs {
		result := r.Result
		if r.Status == domain.RunFailed {
			result = r.Error
		}
		if len(result) > 60 {
			result = result[:60] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.AutomationID, r.ProjectID, r.Status, humanize.Time(r.StartedAt), result)
	}
	return w.Flush()
}

func runTrigger(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	body := api.TriggerRequest{ProjectID: triggerPID}
	var resp struct {
		Started []domain.Run `json:"started"`
	}
	if err := client.post("/api/automations/"+args[0]+"/trigger", body, &resp); err != nil {
		return err
	}
	if len(resp.Started) == 0 {
		fmt.Println("No runs started (concurrency gate or already running)")
		return nil
	}
	for _, r := range resp.Started {
		fmt.Printf("Started run %s on %s\n", r.ID, r.ProjectID)
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	if err := client.post("/api/runs/"+args[0]+"/stop", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Stopped run %s\n", args[0])
	return nil
}

func toggleFunc(enable bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		action := "disable"
		if enable {
			action = "enable"
		}
		var a api.AutomationResponse
		if err := client.post("/api/automations/"+args[0]+"/"+action, nil, &a); err != nil {
			return err
		}
		fmt.Printf("Automation %s is now %s\n", a.Name, map[bool]string{true: "enabled", false: "disabled"}[a.Enabled])
		return nil
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	if err := client.delete("/api/automations/" + args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted automation %s\n", args[0])
	return nil
}
