package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"agentflow/internal/domain"
	"agentflow/internal/infra/graph"
	"agentflow/internal/infra/telemetry"
)

func writeJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func printEvent(event domain.StageEvent) {
	if event.IsRunEvent() {
		line := fmt.Sprintf("[run] %s", event.RunStatus)
		if event.Error != "" {
			line += ": " + event.Error
		}
		fmt.Fprintln(os.Stderr, line)
		return
	}
	line := fmt.Sprintf("[%s] %s", event.StageID, event.Status)
	if event.Error != "" {
		line += ": " + event.Error
	}
	fmt.Fprintln(os.Stderr, line)
}

func printSnapshot(snapshot domain.RunSnapshot, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(snapshot)
	}
	for _, call := range snapshot.ToolCalls {
		status := "ok"
		if call.IsError {
			status = "error"
			if call.Code != "" {
				status += " " + string(call.Code)
			}
		}
		fmt.Fprintf(os.Stderr, "tool %s@%s: %s\n", call.ToolName, call.ServerID, status)
	}
	if snapshot.Failure != nil {
		fmt.Fprintf(os.Stderr, "run %s %s at %q: %s (%s)\n",
			snapshot.RunID, snapshot.Status, snapshot.Failure.StageID, snapshot.Failure.Message, snapshot.Failure.Code)
		return nil
	}
	fmt.Println(snapshot.Answer)
	return nil
}

func printValidation(path string, cfg domain.Config, jsonOutput bool) error {
	servers := len(cfg.Registry.Servers)
	source := "config"
	if cfg.Registry.UseDefaults {
		source = "defaults"
	}
	if jsonOutput {
		return writeJSON(map[string]any{
			"config":          path,
			"flow":            cfg.Runner.Flow,
			"model":           cfg.Model.Model,
			"registryEnabled": cfg.Registry.Enabled,
			"servers":         servers,
			"serverSource":    source,
			"credentialSet":   cfg.Credential.Value != "",
		})
	}
	fmt.Printf("configuration OK: flow=%s model=%s servers=%s credential=%t\n",
		cfg.Runner.Flow, cfg.Model.Model, serverCount(servers, source), cfg.Credential.Value != "")
	return nil
}

func serverCount(count int, source string) string {
	if source == "defaults" {
		return "defaults"
	}
	return fmt.Sprintf("%d", count)
}

type serverView struct {
	domain.ToolServer
	Headers          map[string]string `json:"headers,omitempty"`
	HasAuthorization bool              `json:"hasAuthorization"`
}

func printServers(servers []domain.ToolServer, jsonOutput bool) error {
	if jsonOutput {
		views := make([]serverView, 0, len(servers))
		for _, server := range servers {
			views = append(views, serverView{
				ToolServer:       server,
				Headers:          telemetry.RedactMap(server.Headers),
				HasAuthorization: server.Authorization != "",
			})
		}
		return writeJSON(views)
	}
	table := newTable()
	fmt.Fprintln(table, "ID\tLABEL\tENABLED\tAPPROVAL\tSTATUS\tENDPOINT")
	for _, server := range servers {
		fmt.Fprintf(table, "%s\t%s\t%t\t%s\t%s\t%s\n",
			server.ID, server.Label, server.Enabled, approvalText(server.Approval), statusText(server), server.Endpoint)
	}
	return table.Flush()
}

func approvalText(policy domain.ApprovalPolicy) string {
	if policy.Mode == domain.ApprovalNeverExcept {
		return "never except " + strings.Join(policy.Except, ",")
	}
	if policy.Mode == "" {
		return string(domain.ApprovalNever)
	}
	return string(policy.Mode)
}

func statusText(server domain.ToolServer) string {
	if server.LastError != "" {
		return fmt.Sprintf("%s (%s)", server.Status, server.LastError)
	}
	return string(server.Status)
}

func printFlowNames(names []string, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(names)
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func printGraph(g *graph.Graph, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(map[string]any{
			"name":   g.Name(),
			"entry":  g.Entry().ID,
			"stages": g.Stages(),
			"edges":  g.Edges(),
		})
	}
	fmt.Printf("flow %s (entry %s)\n", g.Name(), g.Entry().ID)
	table := newTable()
	fmt.Fprintln(table, "STAGE\tKIND\tCREDENTIAL\tLABEL")
	for _, stage := range g.Stages() {
		fmt.Fprintf(table, "%s\t%s\t%t\t%s\n", stage.ID, stage.Kind, stage.RequiresCredential, stage.Label)
	}
	if err := table.Flush(); err != nil {
		return err
	}
	fmt.Println()
	table = newTable()
	fmt.Fprintln(table, "EDGE\tFROM\tTO\tCONDITION")
	for _, edge := range g.Edges() {
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\n", edge.ID, edge.From, edge.To, edge.Condition)
	}
	return table.Flush()
}

func printRuns(records []domain.RunRecord, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(records)
	}
	table := newTable()
	fmt.Fprintln(table, "RUN\tFLOW\tSTATUS\tFAILURE\tTOOLS\tFINISHED\tDURATION")
	for _, record := range records {
		failure := "-"
		if record.FailureCode != "" {
			failure = string(record.FailureCode)
			if record.FailureStage != "" {
				failure += "@" + record.FailureStage
			}
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			record.ID, record.Flow, record.Status, failure,
			record.ToolCalls-record.ToolFailures, record.ToolCalls,
			record.FinishedAt.Local().Format(time.DateTime),
			record.FinishedAt.Sub(record.StartedAt).Truncate(time.Millisecond),
		)
	}
	return table.Flush()
}

func printHealth(service, status string, jsonOutput bool) error {
	name := service
	if name == "" {
		name = "overall"
	}
	if jsonOutput {
		return writeJSON(map[string]string{"service": name, "status": status})
	}
	fmt.Printf("%s: %s\n", name, status)
	return nil
}
