package tts

import "github.com/loqalabs/loqa-speak/internal/ssml"

// Voice describes one selectable neural voice.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Lang string `json:"lang"`
}

var catalog = []Voice{
	{ID: "it-IT-IsabellaNeural", Name: "Isabella (Donna)", Lang: ssml.Locale},
	{ID: "it-IT-DiegoNeural", Name: "Diego (Uomo)", Lang: ssml.Locale},
	{ID: "it-IT-ElsaNeural", Name: "Elsa (Donna)", Lang: ssml.Locale},
	{ID: "it-IT-GiuseppeNeural", Name: "Giuseppe (Uomo)", Lang: ssml.Locale},
}

// Catalog returns a copy of the known voices.
func Catalog() []Voice {
	return append([]Voice(nil), catalog...)
}

// KnownVoice reports whether id is in the catalog.
func KnownVoice(id string) bool {
	for _, v := range catalog {
		if v.ID == id {
			return true
		}
	}
	return false
}
