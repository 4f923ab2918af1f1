// -- internal/humanoid/keyboard.go --
package humanoid

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// Backspace is emitted to erase a typo. It matches kb.Backspace.
const Backspace = '\b'

// qwertzNeighbors lists the keys adjacent to each letter on a German
// keyboard. A typo hits one of them.
var qwertzNeighbors = map[rune]string{
	'q': "wa", 'w': "qase", 'e': "wsdr", 'r': "edft", 't': "rfgz",
	'z': "tghu", 'u': "zhji", 'i': "ujko", 'o': "iklp", 'p': "olöü",
	'ü': "pöä",
	'a': "qwsy", 's': "awedxy", 'd': "serfcx", 'f': "drtgvc", 'g': "ftzhbv",
	'h': "gzujnb", 'j': "huikmn", 'k': "jiolm", 'l': "kopö", 'ö': "lpüä",
	'ä': "öü",
	'y': "asx", 'x': "ysdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn",
	'n': "bhjm", 'm': "njk",
}

// commonNgrams are typed in a faster burst than arbitrary letter pairs.
var commonNgrams = map[string]bool{
	"en": true, "er": true, "ch": true, "de": true, "ei": true, "ie": true,
	"in": true, "te": true, "st": true, "nd": true, "ge": true, "un": true,
	"th": true, "he": true, "an": true, "re": true, "es": true, "on": true,
}

// KeyDelay returns the pause before typing runes[i]. Common letter pairs are
// typed faster, the first letter after a word boundary slower.
func (p *Pacer) KeyDelay(runes []rune, i int) time.Duration {
	if !p.Enabled() || i <= 0 || i >= len(runes) {
		return 0
	}
	base := p.Delay(Typing)
	prev, cur := runes[i-1], runes[i]
	switch {
	case prev == ' ' || prev == '\n':
		return base * 2
	case commonNgrams[strings.ToLower(string([]rune{prev, cur}))]:
		return base * 6 / 10
	default:
		return base
	}
}

// Typo returns a neighbouring key to hit instead of runes[i], or false when
// no typo happens. The first key and anything that is not a letter on the
// keyboard are always typed correctly.
func (p *Pacer) Typo(runes []rune, i int) (rune, bool) {
	if !p.Enabled() || i <= 0 || i >= len(runes) {
		return 0, false
	}
	r := runes[i]
	neighbors, ok := qwertzNeighbors[unicode.ToLower(r)]
	if !ok || !p.roll(p.cfg.TypoProbability) {
		return 0, false
	}

	keys := []rune(neighbors)
	p.mu.Lock()
	typo := keys[p.rng.Intn(len(keys))]
	p.mu.Unlock()

	if unicode.IsUpper(r) {
		typo = unicode.ToUpper(typo)
	}
	return typo, true
}

// Type waits KeyDelay before each rune and hands it to emit. A typo is
// emitted first now and then, noticed and erased with Backspace.
func (p *Pacer) Type(ctx context.Context, text string, emit func(ctx context.Context, r rune) error) error {
	runes := []rune(text)
	for i, r := range runes {
		if d := p.KeyDelay(runes, i); d > 0 {
			if err := p.sleep(ctx, d); err != nil {
				return err
			}
		}
		if typo, ok := p.Typo(runes, i); ok {
			p.logger.Debug("Correcting a typo.", zap.Int("position", i))
			if err := p.correct(ctx, typo, emit); err != nil {
				return err
			}
		}
		if err := emit(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// correct types the wrong key, hesitates and erases it.
func (p *Pacer) correct(ctx context.Context, typo rune, emit func(ctx context.Context, r rune) error) error {
	if err := emit(ctx, typo); err != nil {
		return err
	}
	if err := p.sleepBetween(ctx, 100*time.Millisecond, 300*time.Millisecond); err != nil {
		return err
	}
	if err := emit(ctx, Backspace); err != nil {
		return err
	}
	return p.sleepBetween(ctx, 100*time.Millisecond, 200*time.Millisecond)
}
