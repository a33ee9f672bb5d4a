package tui

import (
	"github.com/charmbracelet/huh"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
)

const speakerFieldKey = "agent"

// buildInputForm turns a chat.input_request into a huh form. Field values
// are read back by key after the form completes.
func buildInputForm(ev *chatwire.EventInputRequest) (*huh.Form, []string) {
	var fields []huh.Field
	var keys []string

	for _, f := range ev.Fields {
		title := f.Label
		if title == "" {
			title = f.Name
		}
		keys = append(keys, f.Name)

		switch f.Kind {
		case "select":
			opts := make([]huh.Option[string], 0, len(f.Options))
			for _, o := range f.Options {
				opts = append(opts, huh.NewOption(o, o))
			}
			sel := huh.NewSelect[string]().
				Key(f.Name).
				Title(title).
				Options(opts...)
			fields = append(fields, sel)
		default:
			in := huh.NewInput().
				Key(f.Name).
				Title(title)
			if f.Default != "" {
				in = in.Placeholder(f.Default)
			}
			if f.Required {
				in = in.Validate(requireNonEmpty(title))
			}
			fields = append(fields, in)
		}
	}

	if len(fields) == 0 {
		// free-text prompt without declared fields
		keys = append(keys, "text")
		fields = append(fields, huh.NewInput().Key("text").Title(ev.Prompt))
	}

	group := huh.NewGroup(fields...)
	if ev.Prompt != "" {
		group = group.Title(ev.Prompt)
	}
	return huh.NewForm(group), keys
}

// buildSpeakerForm turns a chat.select_speaker into a single-select form.
func buildSpeakerForm(ev *chatwire.EventSelectSpeaker) (*huh.Form, []string) {
	prompt := ev.Prompt
	if prompt == "" {
		prompt = "Who should speak next?"
	}
	opts := make([]huh.Option[string], 0, len(ev.Agents))
	for _, a := range ev.Agents {
		opts = append(opts, huh.NewOption(a, a))
	}
	sel := huh.NewSelect[string]().
		Key(speakerFieldKey).
		Title(prompt).
		Options(opts...)
	return huh.NewForm(huh.NewGroup(sel)), []string{speakerFieldKey}
}

func requireNonEmpty(title string) func(string) error {
	return func(s string) error {
		if s == "" {
			return errRequired(title)
		}
		return nil
	}
}

type errRequired string

func (e errRequired) Error() string {
	return string(e) + " is required"
}
