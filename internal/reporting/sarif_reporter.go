// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/reporting/sarif"
	"github.com/xkilldash9x/domtaint/internal/session"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "domtaint"
	ToolInfoURI  = "https://github.com/xkilldash9x/domtaint"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer replaces everything but alphanumerics, underscore and dot with a
// single hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// ruleDef is the content of one SARIF rule.
type ruleDef struct {
	Name        string
	Description string
	Help        string
	Level       sarif.Level
}

var (
	seedRule = ruleDef{
		Name:        "Seeded value",
		Description: "A value tainted at the source: the designated element or a value tainted by seed code.",
		Help:        "Seeded values mark where tracking started. They are listed for context.",
		Level:       sarif.LevelNone,
	}
	derivedRule = ruleDef{
		Name:        "Derived tainted value",
		Description: "A value computed from a tainted value. The label records the operations applied, outermost last.",
		Help:        "Follow the label from the seed to see how page code transformed the input.",
		Level:       sarif.LevelNote,
	}
)

// fingerprint identifies a rule definition by content.
type fingerprint string

func fingerprintOf(def ruleDef) fingerprint {
	h := sha1.New()
	_ = json.NewEncoder(h).Encode(def)
	return fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format. Each
// label becomes a result; each tracked target becomes an invocation. It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log

	mu                 sync.Mutex
	rulesByFingerprint map[fingerprint]int
	ruleIDUsage        map[string]int
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:             writer,
		logger:             logger.Named("sarif"),
		log:                log,
		rulesByFingerprint: make(map[fingerprint]int),
		ruleIDUsage:        make(map[string]int),
	}
}

// Write adds the labels of result and an invocation describing the run.
func (r *SARIFReporter) Write(result *session.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	for _, label := range result.Labels {
		def := derivedRule
		if !isDerivedLabel(label) {
			def = seedRule
		}
		index := r.ensureRule(def)
		run.Results = append(run.Results, &sarif.Result{
			RuleID:    run.Tool.Driver.Rules[index].ID,
			RuleIndex: index,
			Message:   &sarif.Message{Text: pString(label)},
			Level:     def.Level,
			Locations: []*sarif.Location{{
				PhysicalLocation: &sarif.PhysicalLocation{
					ArtifactLocation: &sarif.ArtifactLocation{URI: pString(result.URL)},
				},
			}},
			PartialFingerprints: map[string]string{"taintLabel/v1": labelFingerprint(result.URL, label)},
			Properties:          &sarif.PropertyBag{"session": result.ID},
		})
	}

	invocation := &sarif.Invocation{
		ExecutionSuccessful: true,
		Properties: &sarif.PropertyBag{
			"session":       result.ID,
			"url":           result.URL,
			"taintStarted":  result.TaintStarted,
			"frames":        result.Stats.Frames,
			"rewritten":     result.Stats.Rewritten,
			"parseErrors":   result.Stats.ParseErrors,
			"durationMilli": result.Duration.Milliseconds(),
		},
	}
	for _, e := range result.Errors {
		invocation.Notifications = append(invocation.Notifications, &sarif.Notification{
			Message: &sarif.Message{Text: pString(e)},
			Level:   sarif.LevelWarning,
		})
	}
	run.Invocations = append(run.Invocations, invocation)

	r.logger.Debug("Wrote labels to SARIF buffer", zap.String("url", result.URL), zap.Int("labels", len(result.Labels)))
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	data, encodeErr := json.MarshalIndent(r.log, "", "  ")
	if encodeErr == nil {
		data = append(data, '\n')
		_, encodeErr = r.writer.Write(data)
	}
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Successfully wrote SARIF report", zap.Duration("duration_ms", time.Since(startTime)))
	return nil
}

// sanitizeRuleName creates a standardized base name for the rule ID.
func sanitizeRuleName(name string) string {
	sanitized := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(name), "-"), "-")
	if sanitized == "" {
		return "UNNAMED"
	}
	return sanitized
}

// ensureRule registers def once and returns its index in the driver's rules.
// Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(def ruleDef) int {
	fp := fingerprintOf(def)
	if index, ok := r.rulesByFingerprint[fp]; ok {
		return index
	}

	baseRuleID := "DOMTAINT-" + sanitizeRuleName(def.Name)
	usage := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usage + 1
	ruleID := baseRuleID
	if usage > 0 {
		ruleID = fmt.Sprintf("%s-%d", baseRuleID, usage)
	}

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               ruleID,
		Name:             pString(def.Name),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(def.Name)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(def.Description)},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(def.Help),
			Markdown: pString(fmt.Sprintf("**%s**\n\n%s\n\n%s", def.Name, def.Description, def.Help)),
		},
		Properties: &sarif.PropertyBag{"tags": []string{"taint", "javascript"}},
	})
	index := len(driver.Rules) - 1
	r.rulesByFingerprint[fp] = index
	return index
}

// isDerivedLabel reports whether label records at least one operation. Seed labels
// are plain identifiers.
func isDerivedLabel(label string) bool {
	return strings.ContainsAny(label, ".()[]+-*/%<>=!&|?^~, ")
}

func labelFingerprint(url, label string) string {
	sum := sha1.Sum([]byte(url + "\x00" + label))
	return hex.EncodeToString(sum[:])
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
