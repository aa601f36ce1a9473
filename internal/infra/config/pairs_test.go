package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tg-relay-bot/internal/domain"
)

func validPair() domain.ChannelPairConfig {
	return domain.ChannelPairConfig{
		Source:  "@source",
		Targets: []domain.Target{{Identifier: "@target"}},
		Enabled: true,
	}
}

func TestValidatePairs(t *testing.T) {
	if err := ValidatePairs([]domain.ChannelPairConfig{validPair()}); err != nil {
		t.Fatalf("корректная пара не должна отклоняться: %v", err)
	}

	if err := ValidatePairs(nil); !errors.Is(err, ErrNoPairs) {
		t.Fatalf("ожидали ErrNoPairs, получили %v", err)
	}

	noSource := validPair()
	noSource.Source = ""
	if err := ValidatePairs([]domain.ChannelPairConfig{noSource}); !errors.Is(err, ErrEmptySource) {
		t.Fatalf("ожидали ErrEmptySource, получили %v", err)
	}

	noTargets := validPair()
	noTargets.Targets = nil
	if err := ValidatePairs([]domain.ChannelPairConfig{noTargets}); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("ожидали ErrNoTargets, получили %v", err)
	}

	badReplace := validPair()
	badReplace.Replacements = []domain.ReplaceRule{{From: "", To: "x"}}
	if err := ValidatePairs([]domain.ChannelPairConfig{badReplace}); !errors.Is(err, ErrBadReplace) {
		t.Fatalf("ожидали ErrBadReplace, получили %v", err)
	}

	badKind := validPair()
	badKind.AllowedKinds = []domain.MediaKind{"hologram"}
	if err := ValidatePairs([]domain.ChannelPairConfig{badKind}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("ожидали ErrUnknownKind, получили %v", err)
	}

	duplicate := []domain.ChannelPairConfig{validPair(), validPair()}
	if err := ValidatePairs(duplicate); !errors.Is(err, ErrDuplicatePair) {
		t.Fatalf("ожидали ErrDuplicatePair, получили %v", err)
	}
}

func TestLoadPairsFromYAML(t *testing.T) {
	content := `
pairs:
  - source: "@news"
    source_id: 100
    targets:
      - identifier: "@mirror"
        id: 200
        name: "Зеркало"
    allowed_kinds: [photo, video]
    keywords: ["запуск"]
    replacements:
      - from: "старое"
        to: "новое"
    exclude_links: true
    remove_captions: false
    enabled: true
`
	path := filepath.Join(t.TempDir(), "pairs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	provider, err := LoadPairs(path)
	if err != nil {
		t.Fatalf("не ожидали ошибку загрузки: %v", err)
	}
	pairs := provider.Pairs()
	if len(pairs) != 1 {
		t.Fatalf("ожидали одну пару, получили %d", len(pairs))
	}
	pair := pairs[0]
	if pair.Source != "@news" || pair.Targets[0].ID != 200 {
		t.Fatal("поля пары разобраны неверно")
	}
	if !pair.KindAllowed(domain.MediaPhoto) || pair.KindAllowed(domain.MediaDocument) {
		t.Fatal("allow-список типов разобран неверно")
	}
	if !pair.ExcludeLinks || pair.RemoveCaptions {
		t.Fatal("флаги пары разобраны неверно")
	}
}

func TestReloadKeepsOldSnapshotOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.yaml")
	good := "pairs:\n  - source: \"@a\"\n    targets:\n      - identifier: \"@b\"\n"
	if err := os.WriteFile(path, []byte(good), 0o600); err != nil {
		t.Fatal(err)
	}
	provider, err := LoadPairs(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("pairs: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := provider.Reload(); err == nil {
		t.Fatal("пустой список пар должен отклоняться")
	}
	if len(provider.Pairs()) != 1 {
		t.Fatal("после неудачной перезагрузки остаётся прежний снимок")
	}
}
