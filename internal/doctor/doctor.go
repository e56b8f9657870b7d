// Package doctor turns log analyses and metric trends into diagnosis
// reports, calling the LLM only when something actually looks wrong.
package doctor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/server-doctor/internal/logs"
	"github.com/nidhogg/server-doctor/internal/metrics"
	"github.com/nidhogg/server-doctor/internal/notify"
	"github.com/nidhogg/server-doctor/internal/provider"
	"go.uber.org/zap"
)

const (
	reportHeader = "## AI server doctor report\n"

	healthyReport = "**[diagnosis]**\nThe server is currently in good shape.\n" +
		"- no error logs found\n- resource usage within normal range\n" +
		"(nothing unusual, detailed analysis skipped)"

	systemPrompt = `You are a DevOps forensics expert who reads system logs to find the root cause of incidents.
Analyze the provided error logs and resource state and explain the concrete problem on this server.

Rules:
1. No speculation: instead of vague guesses, cite the exact exception names and messages present in the logs.
2. Evidence first: say things like "the logs show [NullPointerException], which points to a bug in [UserService]".
3. Remedies: suggest the specific code-level fix or the immediate operational action to take.
4. If the data is thin or unremarkable, say plainly that no critical error was found.`

	// maxPromptErrors keeps the prompt small; ten entries is enough context.
	maxPromptErrors = 10

	analysisLimit   = 100
	diagnoseTimeout = 60 * time.Second
)

// Doctor orchestrates a diagnosis: aggregate, short-circuit or ask the LLM,
// and optionally deliver the report through the notifier.
type Doctor struct {
	logs     *logs.Aggregator
	metrics  *metrics.Aggregator
	llm      provider.Provider
	notifier *notify.Dispatcher
	logger   *zap.Logger
}

// New creates a Doctor. llm may be nil, in which case every non-trivial
// diagnosis degrades to a data-only report.
func New(logAgg *logs.Aggregator, metricAgg *metrics.Aggregator, llm provider.Provider, notifier *notify.Dispatcher, logger *zap.Logger) *Doctor {
	return &Doctor{
		logs:     logAgg,
		metrics:  metricAgg,
		llm:      llm,
		notifier: notifier,
		logger:   logger,
	}
}

// Diagnose produces the diagnosis report for server synchronously. LLM
// failures degrade to an apology string; this never returns an error to the
// protocol layer.
func (d *Doctor) Diagnose(ctx context.Context, server string) string {
	analysis := d.logs.AnalyzeErrors(server, analysisLimit)
	trend := d.metrics.Trend(server)

	// Healthy short-circuit: skip the LLM cost when there is nothing to
	// analyze. The instability summary deliberately avoids the word
	// "stable" so this check cannot misfire.
	if analysis.Count == 0 && strings.Contains(trend, "stable") {
		return healthyReport
	}

	entries := analysis.Entries
	if len(entries) > maxPromptErrors {
		entries = entries[len(entries)-maxPromptErrors:]
	}

	userPrompt := fmt.Sprintf(`[diagnosis request]
1. server: %s
2. CPU/RAM state: %s
3. recent error logs (at most %d):
`+"```text\n%s\n```"+`
(trace the root cause from the logs above.)`,
		server, trend, maxPromptErrors, strings.Join(entries, "\n"))

	if d.llm == nil {
		return reportHeader + "LLM analysis is not configured.\n\n" + trend + "\n\n" + strings.Join(entries, "\n")
	}

	answer, err := d.llm.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		d.logger.Error("llm call failed", zap.String("server", server), zap.Error(err))
		return reportHeader + "AI analysis is unavailable right now: " + err.Error()
	}
	return reportHeader + answer
}

// DiagnoseAndReport runs Diagnose in the background and delivers the result
// to webhookURL. Used by the browser-triggered diagnosis link.
func (d *Doctor) DiagnoseAndReport(server, webhookURL string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), diagnoseTimeout)
		defer cancel()

		report := d.Diagnose(ctx, server)
		if webhookURL == "" {
			return
		}
		if err := d.notifier.SendReport(ctx, webhookURL, report); err != nil {
			d.logger.Error("diagnosis report delivery failed",
				zap.String("server", server), zap.Error(err))
		}
	}()
}
