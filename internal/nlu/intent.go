// Package nlu holds the conversational side of the assistant: the language
// model clients, the intent extractor and the executor that turns intents
// into app side effects.
package nlu

import (
	"fmt"
	"strings"

	"mizon/pkg/phrase"
)

// IntentSource selects which text the extractor classifies.
type IntentSource string

const (
	// FromReply scans the assistant reply for marker words. It only works
	// as long as the model phrases its answers with those words.
	FromReply IntentSource = "reply"
	// FromUtterance classifies the user's command before a reply exists.
	FromUtterance IntentSource = "utterance"
)

type markerSet struct {
	open, added, bill, reminder []string
}

// Extractor is stateless after construction; Extract is a pure function of
// its arguments.
type Extractor struct {
	reply   markerSet
	command markerSet
	targets []target
	items   []grocery
}

func NewExtractor() *Extractor {
	e := &Extractor{
		reply:   markerSet{fold(replyOpen), fold(replyAdded), fold(replyBill), fold(replyReminder)},
		command: markerSet{fold(commandOpen), fold(commandAdded), fold(commandBill), fold(commandReminder)},
	}
	for _, t := range targets {
		t.keys = fold(t.keys)
		e.targets = append(e.targets, t)
	}
	for _, g := range groceries {
		g.keys = fold(g.keys)
		e.items = append(e.items, g)
	}
	return e
}

// Extract maps an assistant reply to at most one action. utterance is the
// user text that produced the reply; list items are matched in both.
func (e *Extractor) Extract(reply, utterance string, lang phrase.Language) (Action, bool) {
	return e.extract(e.reply, reply, utterance, lang.Resolve(reply+" "+utterance))
}

// ExtractCommand classifies the user utterance directly.
func (e *Extractor) ExtractCommand(utterance string, lang phrase.Language) (Action, bool) {
	return e.extract(e.command, utterance, "", lang.Resolve(utterance))
}

func (e *Extractor) extract(m markerSet, text, utterance string, lang phrase.Language) (Action, bool) {
	primary := phrase.Fold(text)
	if primary == "" {
		return Action{}, false
	}
	msg := messagesFor(lang)

	if contains(primary, m.open) {
		for _, t := range e.targets {
			if contains(primary, t.keys) {
				label := t.en
				if lang == phrase.Arabic {
					label = t.ar
				}
				return Action{
					Type:         Navigate,
					Route:        t.route,
					Confirmation: fmt.Sprintf(msg.opened, label),
				}, true
			}
		}
	}

	if contains(primary, m.added) {
		both := primary + " " + phrase.Fold(utterance)
		var items []string
		for _, g := range e.items {
			if contains(both, g.keys) {
				if lang == phrase.Arabic {
					items = append(items, g.ar)
				} else {
					items = append(items, g.en)
				}
			}
		}
		if len(items) > 0 {
			return Action{
				Type:         AddNote,
				Items:        items,
				Confirmation: fmt.Sprintf(msg.added, strings.Join(items, msg.listSep)),
			}, true
		}
	}

	if contains(primary, m.bill) {
		return Action{Type: ProcessBill, Note: strings.TrimSpace(utterance), Confirmation: msg.bill}, true
	}

	if contains(primary, m.reminder) {
		note := strings.TrimSpace(utterance)
		if note == "" {
			note = strings.TrimSpace(text)
		}
		return Action{Type: SetReminder, Note: note, Confirmation: msg.reminder}, true
	}

	return Action{}, false
}

// Feature builds an open_feature action for a caller supplied path.
func Feature(path, label string, lang phrase.Language) Action {
	if label == "" {
		label = path
	}
	return Action{
		Type:         OpenFeature,
		Route:        path,
		Confirmation: fmt.Sprintf(messagesFor(lang.Resolve(label)).opened, label),
	}
}

func contains(folded string, keys []string) bool {
	for _, k := range keys {
		if k != "" && strings.Contains(folded, k) {
			return true
		}
	}
	return false
}

func fold(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, phrase.Fold(s))
	}
	return out
}
