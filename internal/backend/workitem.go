package backend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/autofix/internal/issue"
)

// Context keys carrying the originating issue on a WorkItem.
const (
	ContextIssueID    = "issue_id"
	ContextSeverity   = "severity"
	ContextMessage    = "message"
	ContextFilePath   = "file_path"
	ContextLineNumber = "line_number"
	ContextStage      = "stage"
)

// TaskID derives the task id for the issue at index.
func TaskID(index int, t issue.Type) string {
	return fmt.Sprintf("task_%d_%s", index, t)
}

// ItemFromIssue materializes the work item for the issue at index.
func ItemFromIssue(index int, is issue.Issue) WorkItem {
	item := WorkItem{
		TaskID:          TaskID(index, is.Type),
		IssueType:       is.Type,
		InstructionText: Instruction(is),
		Priority:        is.Severity.Rank(),
		Context: map[string]string{
			ContextIssueID:  is.ID,
			ContextSeverity: string(is.Severity),
			ContextMessage:  is.Message,
		},
	}
	if is.FilePath != "" {
		item.FilePaths = []string{is.FilePath}
		item.Context[ContextFilePath] = is.FilePath
	}
	if is.LineNumber > 0 {
		item.Context[ContextLineNumber] = strconv.Itoa(is.LineNumber)
	}
	if is.Stage != "" {
		item.Context[ContextStage] = is.Stage
	}
	return item
}

// Instruction renders the human-readable instruction for an issue.
func Instruction(is issue.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fix %s issue", is.Type)
	if is.FilePath != "" {
		fmt.Fprintf(&b, " in %s", is.FilePath)
	}
	if is.Message != "" {
		fmt.Fprintf(&b, ": %s", is.Message)
	}
	if loc := is.Location(); loc != "" && is.LineNumber > 0 {
		fmt.Fprintf(&b, " (at %s)", loc)
	}
	return b.String()
}

// IssueFromItem reconstructs the issue a work item was derived from.
// Missing fields fall back to the task id and medium severity.
func IssueFromItem(item WorkItem) issue.Issue {
	is := issue.Issue{
		ID:       item.Context[ContextIssueID],
		Type:     item.IssueType,
		Severity: issue.Severity(item.Context[ContextSeverity]),
		Message:  item.Context[ContextMessage],
		FilePath: item.Context[ContextFilePath],
		Stage:    item.Context[ContextStage],
	}
	if is.ID == "" {
		is.ID = item.TaskID
	}
	if !is.Severity.Valid() {
		is.Severity = issue.SeverityMedium
	}
	if is.FilePath == "" && len(item.FilePaths) > 0 {
		is.FilePath = item.FilePaths[0]
	}
	if n, err := strconv.Atoi(item.Context[ContextLineNumber]); err == nil && n > 0 {
		is.LineNumber = n
	}
	if is.Message == "" {
		is.Message = item.InstructionText
	}
	return is
}
