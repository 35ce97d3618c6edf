package services

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"alfredoptarigan/entity-brain/internal/models"
)

var (
	ruleHeading = regexp.MustCompile(`^\*\*(\d+)\.\s+(.+)\*\*$`)
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

var stopWords = map[string]bool{
	"and": true, "the": true, "for": true, "with": true, "from": true, "that": true,
	"this": true, "must": true, "shall": true, "should": true, "into": true, "their": true,
	"under": true, "other": true, "than": true, "have": true, "been": true, "will": true,
}

// RulePriority maps a rule number to its tier.
func RulePriority(number int) models.CriterionPriority {
	switch {
	case number >= 1 && number <= 46:
		return models.PriorityCritical
	case number >= 47 && number <= 100:
		return models.PriorityHigh
	default:
		return models.PriorityImportant
	}
}

func priorityWeight(p models.CriterionPriority) float64 {
	switch p {
	case models.PriorityCritical:
		return 3
	case models.PriorityHigh:
		return 2
	default:
		return 1
	}
}

// ParseRulesMarkdown reads numbered rules written as
//
//	**12. Title**
//	- description line
//	- **Source**: reference
//
// and returns one criterion per rule in document order.
func ParseRulesMarkdown(markdown string) []models.Criterion {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(markdown))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}

	var criteria []models.Criterion
	for i := 0; i < len(lines); {
		m := ruleHeading.FindStringSubmatch(lines[i])
		if m == nil {
			i++
			continue
		}
		number, err := strconv.Atoi(m[1])
		if err != nil {
			i++
			continue
		}
		title := strings.TrimSpace(m[2])
		i++

		var description []string
		for i < len(lines) && strings.HasPrefix(lines[i], "-") && !strings.Contains(lines[i], "**Source**") {
			description = append(description, strings.TrimSpace(strings.TrimPrefix(lines[i], "-")))
			i++
		}

		source := ""
		if i < len(lines) && strings.Contains(lines[i], "**Source**:") {
			source = strings.TrimSpace(strings.Replace(lines[i], "- **Source**:", "", 1))
			i++
		}

		priority := RulePriority(number)
		criteria = append(criteria, models.Criterion{
			ID:          fmt.Sprintf("rule-%d", number),
			Title:       title,
			Description: strings.Join(description, " "),
			Priority:    priority,
			Weight:      priorityWeight(priority),
			Keywords:    Keywords(title),
			Source:      source,
		})
	}

	return criteria
}

// Keywords returns the distinct significant lower-case words of text.
func Keywords(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len([]rune(w)) < 4 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
