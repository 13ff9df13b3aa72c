package command

import (
	"encoding/json"
	"regexp"
	"strings"
)

// roleKeywords are role mentions that suggest a new contact. Order matters:
// the first matching keyword decides the contact type.
var roleKeywords = []struct {
	keyword     string
	contactType string
}{
	{"buyer", "buyer"},
	{"inspector", "inspector"},
	{"title company", "title_company"},
	{"lender", "lender"},
	{"attorney", "attorney"},
	{"appraiser", "appraiser"},
	{"contractor", "contractor"},
}

// allRoleKeywords includes roles that count as a mention without having a
// dedicated contact type.
var allRoleKeywords = []string{
	"buyer", "seller", "inspector", "title company", "lender",
	"attorney", "appraiser", "contractor",
}

var addingLanguage = []string{"add", "added", "as a", "as the", "potential"}

// actionPhrases force a Task classification even when a contact name is
// present. These are phrase patterns, not bare verbs.
var actionPhrases = []*regexp.Regexp{
	regexp.MustCompile(`call\s+.*\b(about|regarding|to discuss)\b`),
	regexp.MustCompile(`\bschedule a\b`),
	regexp.MustCompile(`\bsend to\b`),
	regexp.MustCompile(`\bfollow up with\b`),
	regexp.MustCompile(`\bremind\b`),
	regexp.MustCompile(`\bmeet with\b`),
	regexp.MustCompile(`\bemail about\b`),
}

// Classify maps structured or free-text model output to a typed command.
// Pure and deterministic: identical input always yields identical output.
func Classify(fc *FunctionCall, transcript string) Command {
	if fc != nil && fc.Name == "create_task" {
		var args Args
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err == nil {
			return classifyStructured(args)
		}
	}
	return classifyFreeText(transcript)
}

func classifyStructured(args Args) Command {
	text := strings.ToLower(args.Description + " " + args.Title)

	hasContactName := len(strings.TrimSpace(args.Contact)) > 2
	mentionsRole := false
	for _, kw := range allRoleKeywords {
		if strings.Contains(text, kw) {
			mentionsRole = true
			break
		}
	}
	isAdding := false
	for _, kw := range addingLanguage {
		if strings.Contains(text, kw) {
			isAdding = true
			break
		}
	}
	isActionTask := false
	for _, re := range actionPhrases {
		if re.MatchString(text) {
			isActionTask = true
			break
		}
	}

	if hasContactName && mentionsRole && isAdding && !isActionTask {
		contactType := "other"
		for _, role := range roleKeywords {
			if strings.Contains(text, role.keyword) {
				contactType = role.contactType
				break
			}
		}
		return Command{
			Kind:        KindContact,
			Title:       truncate(args.Title, 50),
			Description: args.Description,
			Contact:     strings.TrimSpace(args.Contact),
			ContactType: contactType,
			Phone:       args.Phone,
			Location:    args.Location,
			Time:        args.Time,
		}
	}

	taskType := args.TaskType
	if taskType == "" {
		taskType = "other"
	}
	priority := args.Priority
	if priority == "" {
		priority = "normal"
	}
	return Command{
		Kind:        KindTask,
		Title:       truncate(args.Title, 50),
		Description: args.Description,
		Contact:     strings.TrimSpace(args.Contact),
		Phone:       args.Phone,
		Location:    args.Location,
		Time:        args.Time,
		TaskType:    taskType,
		Priority:    priority,
		Actions:     SuggestedActions(taskType),
	}
}

// textRule is one entry of the ordered free-text fallback table. The first
// rule whose match predicate returns true (on lower-cased text) wins; build
// extracts fields from the verbatim transcript so casing survives.
type textRule struct {
	name  string
	match func(lower string) bool
	build func(text string) Command
}

var (
	locationRe     = regexp.MustCompile(`(?i)(?:at|for)\s+(.+?)(?:\s+at\s+|$)`)
	streetSuffixRe = regexp.MustCompile(`(?i)\d+\s+[\w\s]+?\s+(?:street|st|avenue|ave|road|rd|drive|dr|lane|ln|court|ct|boulevard|blvd|way|place|pl)\b`)
	clockTimeRe    = regexp.MustCompile(`(?i)(?:at|for)\s+(\d{1,2}(?::\d{2})?\s*(?:am|pm))`)
	bareTimeRe     = regexp.MustCompile(`(?i)(?:at|for)\s+(\d{1,2}(?::\d{2})?)\s*$`)
	callBackRe     = regexp.MustCompile(`(?i)call\s+(.+?)\s+back`)
	backCallRe     = regexp.MustCompile(`(?i)call\s+back\s+(.+)`)
	callNameRe     = regexp.MustCompile(`(?i)call\s+(.+)`)
)

var textRules = []textRule{
	{
		name: "showing",
		match: func(t string) bool {
			return strings.Contains(t, "showing") || strings.Contains(t, "appointment") || strings.Contains(t, "schedule")
		},
		build: func(t string) Command {
			location := "TBD Location"
			if m := locationRe.FindStringSubmatch(t); m != nil {
				location = strings.TrimSpace(m[1])
			} else if m := streetSuffixRe.FindString(t); m != "" {
				location = strings.TrimSpace(m)
			}
			at := "TBD"
			if m := clockTimeRe.FindStringSubmatch(t); m != nil {
				at = strings.TrimSpace(m[1])
			} else if m := bareTimeRe.FindStringSubmatch(t); m != nil {
				at = strings.TrimSpace(m[1])
			}
			return Command{
				Kind:        KindTask,
				Title:       truncate("Showing at "+location, 50),
				Description: t,
				Location:    location,
				Time:        at,
				TaskType:    "showing",
				Priority:    "normal",
				Actions:     SuggestedActions("showing"),
			}
		},
	},
	{
		name: "callback",
		match: func(t string) bool {
			return strings.Contains(t, "call") && strings.Contains(t, "back")
		},
		build: func(t string) Command {
			name := ""
			if m := callBackRe.FindStringSubmatch(t); m != nil {
				name = strings.TrimSpace(m[1])
			} else if m := backCallRe.FindStringSubmatch(t); m != nil {
				name = strings.TrimSpace(m[1])
			}
			return Command{
				Kind:        KindTask,
				Title:       truncate("Call "+name+" back", 50),
				Description: t,
				Contact:     name,
				TaskType:    "callback",
				Priority:    "normal",
				Actions:     SuggestedActions("callback"),
			}
		},
	},
	{
		name: "call",
		match: func(t string) bool {
			return strings.Contains(t, "call") && !strings.Contains(t, "back")
		},
		build: func(t string) Command {
			name := ""
			if m := callNameRe.FindStringSubmatch(t); m != nil {
				name = strings.TrimSpace(m[1])
			}
			return Command{
				Kind:        KindTask,
				Title:       truncate("Call "+name, 50),
				Description: t,
				Contact:     name,
				TaskType:    "call",
				Priority:    "normal",
				Actions:     SuggestedActions("call"),
			}
		},
	},
	{
		name:  "urgent",
		match: func(t string) bool { return strings.Contains(t, "urgent") },
		build: func(t string) Command {
			return Command{
				Kind:        KindUrgentItem,
				Title:       truncate(t, 50),
				Description: t,
				TaskType:    "other",
				Priority:    "urgent",
				Actions:     SuggestedActions("other"),
			}
		},
	},
	{
		name: "queue",
		match: func(t string) bool {
			return strings.Contains(t, "queue") || strings.Contains(t, "follow up")
		},
		build: func(t string) Command {
			return Command{
				Kind:        KindQueueItem,
				Title:       truncate(t, 50),
				Description: t,
				TaskType:    "follow_up",
				Priority:    "normal",
				Actions:     SuggestedActions("follow_up"),
			}
		},
	},
}

func classifyFreeText(transcript string) Command {
	text := strings.TrimSpace(transcript)
	lower := strings.ToLower(text)
	for _, rule := range textRules {
		if rule.match(lower) {
			return rule.build(text)
		}
	}
	return Command{
		Kind:        KindUnrecognized,
		Title:       truncate(transcript, 50),
		Description: transcript,
		Priority:    "normal",
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
