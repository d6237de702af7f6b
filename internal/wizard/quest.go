package wizard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/quests"
)

// QuestDrafter is the slice of the quest service the quest wizard submits to.
type QuestDrafter interface {
	CreateDraft(ctx context.Context, guildID, refereeDiscordID int64, in quests.DraftInput) (*domain.Quest, error)
}

// QuestDefinition builds the quest-drafting wizard. Required: title, start
// time, duration. The draft stays unannounced; publishing is a separate
// step.
func QuestDefinition(drafter QuestDrafter, timeout time.Duration) Definition {
	return Definition{
		Kind:    "quest",
		Timeout: timeout,
		Steps: []Step{
			{Name: "title", Prompt: "What is the quest called?", Required: true, Parse: ParseBoundedText(200)},
			{Name: "start", Prompt: "When does it start? Send a unix timestamp in seconds.", Required: true, Parse: ParseEpochSeconds},
			{Name: "duration", Prompt: "How long will it run, in hours?", Required: true, Parse: ParsePositiveHours},
			{Name: "description", Prompt: "Describe the quest, or say skip.", Parse: ParseBoundedText(2000)},
			{Name: "tags", Prompt: "Any tags? Comma-separated, or say skip.", Parse: ParseCSVMax(20)},
			{Name: "image", Prompt: "Link a banner image, or say skip.", Parse: ParseHTTPURL},
		},
		Preview:  questPreview,
		OnSubmit: questSubmit(drafter),
	}
}

func questPreview(answers map[string]string) string {
	var b strings.Builder
	b.WriteString("Quest draft\n")
	writeLine(&b, "Title", answers["title"])
	if raw, ok := answers["start"]; ok {
		n, _ := strconv.ParseInt(raw, 10, 64)
		writeLine(&b, "Starts", time.Unix(n, 0).UTC().Format(time.RFC1123))
	} else {
		writeLine(&b, "Starts", "")
	}
	if raw, ok := answers["duration"]; ok {
		writeLine(&b, "Duration", raw+"h")
	} else {
		writeLine(&b, "Duration", "")
	}
	writeLine(&b, "Description", answers["description"])
	writeLine(&b, "Tags", answers["tags"])
	writeLine(&b, "Image", answers["image"])
	return b.String()
}

func writeLine(b *strings.Builder, label, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func questSubmit(drafter QuestDrafter) func(context.Context, int64, int64, map[string]string) error {
	return func(ctx context.Context, guildID, authorID int64, answers map[string]string) error {
		epoch, err := strconv.ParseInt(answers["start"], 10, 64)
		if err != nil {
			return domain.Validationf("the start time could not be read back")
		}
		hours, err := strconv.ParseFloat(answers["duration"], 64)
		if err != nil {
			return domain.Validationf("the duration could not be read back")
		}
		in := quests.DraftInput{
			Title:       answers["title"],
			Description: answers["description"],
			ImageURL:    answers["image"],
			StartingAt:  time.Unix(epoch, 0).UTC(),
			Duration:    time.Duration(hours * float64(time.Hour)),
		}
		if tags := answers["tags"]; tags != "" {
			in.Tags = strings.Split(tags, ",")
		}
		_, err = drafter.CreateDraft(ctx, guildID, authorID, in)
		return err
	}
}
