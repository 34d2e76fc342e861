package client

import "context"

// Translator rewrites text into the language identified by lang, e.g. "de".
// Implementations typically call an external translation service.
type Translator interface {
	Translate(ctx context.Context, text, lang string) (string, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(ctx context.Context, text, lang string) (string, error)

func (f TranslatorFunc) Translate(ctx context.Context, text, lang string) (string, error) {
	return f(ctx, text, lang)
}

// Identity returns text unchanged.
type Identity struct{}

func (Identity) Translate(_ context.Context, text, _ string) (string, error) {
	return text, nil
}
