package wizard

import (
	"context"
	"strings"
	"time"

	"github.com/piyushsatti/nonagon/internal/characters"
	"github.com/piyushsatti/nonagon/internal/domain"
)

// Registrar is the slice of the character service the character wizard
// submits to.
type Registrar interface {
	Register(ctx context.Context, guildID, ownerDiscordID int64, in characters.RegisterInput) (*domain.Character, error)
}

// CharacterDefinition builds the character-registration wizard. Required:
// name, sheet link, art link.
func CharacterDefinition(registrar Registrar, timeout time.Duration) Definition {
	return Definition{
		Kind:    "character",
		Timeout: timeout,
		Steps: []Step{
			{Name: "name", Prompt: "What is your character's name?", Required: true, Parse: ParseBoundedName(2, 64)},
			{Name: "sheet", Prompt: "Link their character sheet.", Required: true, Parse: ParseSheetURL},
			{Name: "art", Prompt: "Link a portrait or token image.", Required: true, Parse: ParseHTTPURL},
			{Name: "tags", Prompt: "Any tags? Comma-separated, or say skip.", Parse: ParseCSVMax(20)},
			{Name: "description", Prompt: "A short introduction, or say skip.", Parse: ParseBoundedText(500)},
		},
		Preview:  characterPreview,
		OnSubmit: characterSubmit(registrar),
	}
}

func characterPreview(answers map[string]string) string {
	var b strings.Builder
	b.WriteString("Character sheet\n")
	writeLine(&b, "Name", answers["name"])
	writeLine(&b, "Sheet", answers["sheet"])
	writeLine(&b, "Art", answers["art"])
	writeLine(&b, "Tags", answers["tags"])
	writeLine(&b, "About", answers["description"])
	return b.String()
}

func characterSubmit(registrar Registrar) func(context.Context, int64, int64, map[string]string) error {
	return func(ctx context.Context, guildID, authorID int64, answers map[string]string) error {
		in := characters.RegisterInput{
			Name:        answers["name"],
			SheetURL:    answers["sheet"],
			ArtURL:      answers["art"],
			Description: answers["description"],
		}
		if tags := answers["tags"]; tags != "" {
			in.Tags = strings.Split(tags, ",")
		}
		_, err := registrar.Register(ctx, guildID, authorID, in)
		return err
	}
}
