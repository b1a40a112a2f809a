package workflow

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/lotus/internal/ai"
	"github.com/garyjia/lotus/internal/domain/entity"
	domainwf "github.com/garyjia/lotus/internal/domain/workflow"
)

type analyzeResponse struct {
	Reason    string   `json:"reason"`
	Evidence  []string `json:"evidence"`
	Certainty *float64 `json:"certainty"`
}

type extractResponse struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Assignee       string `json:"assignee"`
	Action         string `json:"action"`
	Object         string `json:"object"`
	DuePhrase      string `json:"due_phrase"`
	PrioritySignal string `json:"priority_signal"`
	Evidence       string `json:"evidence"`
}

type analyzePromptData struct {
	Source string
	Origin string
	Text   string
}

type extractPromptData struct {
	Origin     string
	Text       string
	Reason     string
	Evidence   []string
	Correction string
}

// analyze asks the cloud model why the candidate is actionable. Output that
// cannot be parsed is not fatal; extraction then has to supply the citation.
func (e *engineImpl) analyze(ctx context.Context, st *WorkflowState) domainwf.Trigger {
	prompt, err := e.prompts.Analyze.Render(analyzePromptData{
		Source: st.Candidate.SourceType.String(),
		Origin: formatOrigin(st.Candidate.OriginTime),
		Text:   st.Candidate.Text,
	})
	if err != nil {
		st.Err = err
		return domainwf.TriggerFail
	}

	content, err := e.invoke(ctx, e.prompts.Analyze, prompt, "analyze")
	if err != nil {
		return stageError(st, err)
	}

	var resp analyzeResponse
	if err := ai.DecodeJSON(content, &resp); err != nil {
		e.logger.Debug("Analyze output did not parse, continuing without evidence",
			zap.String("candidate_id", st.Candidate.ID),
			zap.Int("response_length", len(content)))
		return domainwf.TriggerAnalyzed
	}

	st.Reason = strings.TrimSpace(resp.Reason)
	for _, ev := range resp.Evidence {
		if ev = strings.TrimSpace(ev); ev != "" {
			st.Evidence = append(st.Evidence, ev)
		}
	}
	if resp.Certainty != nil {
		c := clamp(*resp.Certainty, 0, 100)
		st.Certainty = &c
	}

	return domainwf.TriggerAnalyzed
}

// extract pulls task parameters out of the candidate. On a retry the
// previous validation failures are sent back as a correction.
func (e *engineImpl) extract(ctx context.Context, st *WorkflowState) domainwf.Trigger {
	st.ExtractAttempts++

	correction := strings.Join(st.ValidationErrors, "; ")
	st.ValidationErrors = nil

	prompt, err := e.prompts.Extract.Render(extractPromptData{
		Origin:     formatOrigin(st.Candidate.OriginTime),
		Text:       st.Candidate.Text,
		Reason:     st.Reason,
		Evidence:   st.Evidence,
		Correction: correction,
	})
	if err != nil {
		st.Err = err
		return domainwf.TriggerFail
	}

	content, err := e.invoke(ctx, e.prompts.Extract, prompt, "extract")
	if err != nil {
		return stageError(st, err)
	}

	var resp extractResponse
	if err := ai.DecodeJSON(content, &resp); err != nil {
		e.logger.Debug("Extract output did not parse",
			zap.String("candidate_id", st.Candidate.ID),
			zap.Int("attempt", st.ExtractAttempts))
		st.ExtractParseFail = true
		st.Title, st.Description, st.Quote = "", "", ""
		st.Entities = Entities{}
		st.DueDate = nil
		return domainwf.TriggerExtracted
	}
	st.ExtractParseFail = false

	st.Entities = Entities{
		Assignee: strings.TrimSpace(resp.Assignee),
		Action:   strings.TrimSpace(resp.Action),
		Object:   strings.TrimSpace(resp.Object),
	}

	title := strings.TrimSpace(resp.Title)
	if title == "" {
		title = strings.TrimSpace(st.Entities.Action + " " + st.Entities.Object)
	}
	st.Title = truncate(title, entity.MaxTitleLength)
	st.Description = strings.TrimSpace(resp.Description)
	st.PrioritySignal = strings.ToLower(strings.TrimSpace(resp.PrioritySignal))

	st.Quote = strings.TrimSpace(resp.Evidence)
	if st.Quote == "" && len(st.Evidence) > 0 {
		st.Quote = st.Evidence[0]
	}

	duePhrase := strings.TrimSpace(resp.DuePhrase)
	if duePhrase == "" {
		duePhrase = DetectDuePhrase(st.Quote)
	}
	st.Entities.DuePhrase = duePhrase
	st.DueDate = ResolveDueDate(duePhrase, st.Candidate.OriginTime)

	return domainwf.TriggerExtracted
}

// validate is the pure check between extraction and generation
func validate(st *WorkflowState) domainwf.Trigger {
	st.Context, st.Citation = ResolveCitation(st.Candidate.Text, st.Quote)

	st.ValidationErrors = ValidateState(st)
	if len(st.ValidationErrors) == 0 {
		return domainwf.TriggerValidated
	}
	return domainwf.TriggerRetryExtract
}

// ValidateState lists the reasons a workflow state cannot become a task
func ValidateState(st *WorkflowState) []string {
	var errs []string

	if st.ExtractParseFail {
		errs = append(errs, "the answer was not a JSON object with the required keys")
	}
	if strings.TrimSpace(st.Title) == "" {
		errs = append(errs, "title is empty")
	}
	if strings.TrimSpace(st.Description) == "" {
		errs = append(errs, "description is empty")
	}
	if st.Context == "" || !strings.Contains(st.Candidate.Text, st.Context) {
		errs = append(errs, "evidence is not a verbatim quote of the message")
	}

	return errs
}

// generate turns a validated state into a draft
func generate(st *WorkflowState) *TaskDraft {
	return &TaskDraft{
		Title:       st.Title,
		Description: st.Description,
		Context:     st.Context,
		Assignee:    st.Entities.Assignee,
		DueDate:     st.DueDate,
		Priority:    DerivePriority(st.PrioritySignal, st.DueDate, st.Candidate.OriginTime),
		Certainty:   st.Certainty,
		Citation:    st.Citation,
	}
}

// DerivePriority maps urgency words and due-date proximity to a 1-3 priority
func DerivePriority(signal string, due *time.Time, origin time.Time) int {
	s := strings.ToLower(signal)
	if strings.Contains(s, "urgent") || strings.Contains(s, "asap") {
		return 1
	}

	if due != nil {
		days := CalendarDaysBetween(origin, *due)
		switch {
		case days <= 1:
			return 1
		case days <= 7:
			return 2
		}
	}

	return 3
}

func formatOrigin(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("Monday, 2006-01-02 15:04 MST")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
