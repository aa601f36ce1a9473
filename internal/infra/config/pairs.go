package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"tg-relay-bot/internal/domain"
)

// Ошибки валидации пар. Некорректная конфигурация — нарушение контракта:
// падаем до старта конвейера, а не посреди сессии.
var (
	ErrNoPairs       = errors.New("список пар каналов пуст")
	ErrEmptySource   = errors.New("у пары не указан источник")
	ErrNoTargets     = errors.New("у пары нет направлений доставки")
	ErrEmptyTarget   = errors.New("направление без идентификатора")
	ErrBadReplace    = errors.New("правило замены с пустым образцом")
	ErrUnknownKind   = errors.New("неизвестный тип вложения в allow-списке")
	ErrEmptyKeyword  = errors.New("пустое ключевое слово")
	ErrDuplicatePair = errors.New("источник встречается дважды")
)

type pairsFile struct {
	Pairs []domain.ChannelPairConfig `yaml:"pairs"`
}

// PairsProvider отдаёт пары каналов и заменяет их целиком при перезагрузке.
type PairsProvider struct {
	mu    sync.RWMutex
	path  string
	pairs []domain.ChannelPairConfig
}

var _ domain.ConfigProvider = (*PairsProvider)(nil)

// LoadPairs читает и валидирует файл пар.
func LoadPairs(path string) (*PairsProvider, error) {
	provider := &PairsProvider{path: path}
	if err := provider.Reload(); err != nil {
		return nil, err
	}
	return provider, nil
}

// Pairs возвращает текущий снимок пар.
func (p *PairsProvider) Pairs() []domain.ChannelPairConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pairs
}

// Reload перечитывает файл. Снимок заменяется целиком и только после
// успешной валидации: частично применённой конфигурации не бывает.
func (p *PairsProvider) Reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("чтение файла пар: %w", err)
	}
	var parsed pairsFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("разбор файла пар: %w", err)
	}
	if err := ValidatePairs(parsed.Pairs); err != nil {
		return err
	}
	p.mu.Lock()
	p.pairs = parsed.Pairs
	p.mu.Unlock()
	return nil
}

// ResolveSources заполняет числовые идентификаторы и отображаемые имена
// пар, заданных ссылкой или именем. Направления без числового ID
// разрешаются тем же способом.
func (p *PairsProvider) ResolveSources(ctx context.Context, resolver domain.ChannelResolver) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.pairs {
		pair := &p.pairs[i]
		if pair.SourceID == 0 {
			id, err := resolver.Resolve(ctx, pair.Source)
			if err != nil {
				return fmt.Errorf("источник %s: %w", pair.Source, err)
			}
			pair.SourceID = id
		}
		if pair.SourceName == "" {
			if info, err := resolver.DisplayInfo(ctx, pair.SourceID); err == nil {
				pair.SourceName = info.Title
			} else {
				pair.SourceName = pair.Source
			}
		}
		for j := range pair.Targets {
			target := &pair.Targets[j]
			if target.ID == 0 {
				id, err := resolver.Resolve(ctx, target.Identifier)
				if err != nil {
					return fmt.Errorf("направление %s: %w", target.Identifier, err)
				}
				target.ID = id
			}
			if target.Name == "" {
				target.Name = target.Identifier
			}
		}
	}
	return nil
}

// ValidatePairs проверяет контракт конфигурации пар.
func ValidatePairs(pairs []domain.ChannelPairConfig) error {
	if len(pairs) == 0 {
		return ErrNoPairs
	}
	seen := make(map[string]struct{}, len(pairs))
	for i, pair := range pairs {
		if pair.Source == "" {
			return fmt.Errorf("пара %d: %w", i, ErrEmptySource)
		}
		if _, ok := seen[pair.Source]; ok {
			return fmt.Errorf("пара %d (%s): %w", i, pair.Source, ErrDuplicatePair)
		}
		seen[pair.Source] = struct{}{}
		if len(pair.Targets) == 0 {
			return fmt.Errorf("пара %d (%s): %w", i, pair.Source, ErrNoTargets)
		}
		for _, target := range pair.Targets {
			if target.Identifier == "" && target.ID == 0 {
				return fmt.Errorf("пара %d (%s): %w", i, pair.Source, ErrEmptyTarget)
			}
		}
		for _, rule := range pair.Replacements {
			if rule.From == "" {
				return fmt.Errorf("пара %d (%s): %w", i, pair.Source, ErrBadReplace)
			}
		}
		for _, keyword := range pair.Keywords {
			if keyword == "" {
				return fmt.Errorf("пара %d (%s): %w", i, pair.Source, ErrEmptyKeyword)
			}
		}
		for _, kind := range pair.AllowedKinds {
			if !knownKind(kind) {
				return fmt.Errorf("пара %d (%s): %w: %q", i, pair.Source, ErrUnknownKind, kind)
			}
		}
	}
	return nil
}

func knownKind(kind domain.MediaKind) bool {
	switch kind {
	case domain.MediaText, domain.MediaPhoto, domain.MediaVideo,
		domain.MediaDocument, domain.MediaAudio, domain.MediaAnimation,
		domain.MediaSticker, domain.MediaVoice, domain.MediaVideoNote:
		return true
	}
	return false
}
