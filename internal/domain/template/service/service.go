// Package service provides business logic for saved column templates.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"gopkg.in/yaml.v3"

	"github.com/FACorreiaa/data-snap/internal/domain/projection"
	"github.com/FACorreiaa/data-snap/internal/domain/template/repository"
)

var ErrInvalidTemplate = errors.New("invalid template")

// listLimit bounds how many templates Search considers
const listLimit = 500

// TemplateService manages reusable column layouts
type TemplateService struct {
	repo   repository.TemplateRepository
	logger *slog.Logger
}

// NewTemplateService creates a new template service
func NewTemplateService(repo repository.TemplateRepository, logger *slog.Logger) *TemplateService {
	return &TemplateService{
		repo:   repo,
		logger: logger,
	}
}

// Save stores the given columns under name.
func (s *TemplateService) Save(ctx context.Context, name string, columns []projection.ColumnSpec) (*repository.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}

	tmpl := &repository.Template{
		Name:    name,
		Columns: projection.CloneColumns(columns),
	}
	if err := s.repo.Create(ctx, tmpl); err != nil {
		return nil, err
	}

	s.logger.Info("template saved",
		slog.String("template_id", tmpl.ID.String()),
		slog.String("name", tmpl.Name),
		slog.Int("columns", len(tmpl.Columns)),
	)
	return tmpl, nil
}

// Get returns a template by ID.
func (s *TemplateService) Get(ctx context.Context, id uuid.UUID) (*repository.Template, error) {
	return s.repo.GetByID(ctx, id)
}

// Delete removes a template.
func (s *TemplateService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Search lists templates whose names fuzzily contain query, best match first.
// An empty query returns every template, newest first.
func (s *TemplateService) Search(ctx context.Context, query string) ([]*repository.Template, error) {
	templates, err := s.repo.List(ctx, listLimit, 0)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return templates, nil
	}

	names := make([]string, len(templates))
	for i, t := range templates {
		names[i] = t.Name
	}

	ranks := fuzzy.RankFindFold(query, names)
	sort.Stable(ranks)

	results := make([]*repository.Template, 0, len(ranks))
	for _, r := range ranks {
		results = append(results, templates[r.OriginalIndex])
	}
	return results, nil
}

// columnRow is one CSV line of a template import: name,rules,match_value
type columnRow struct {
	Name       string `csv:"name"`
	Rules      string `csv:"rules"` // "|" separated, e.g. "startsWith|contains"
	MatchValue string `csv:"match_value"`
}

// ImportCSV creates a template from a CSV column list.
// Rows are applied through a projection.Store, so blank names and unknown
// rules are skipped the same way interactive edits are.
func (s *TemplateService) ImportCSV(ctx context.Context, name string, r io.Reader) (*repository.Template, error) {
	var rows []*columnRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	store := projection.NewStore()
	for _, row := range rows {
		var rules []string
		if row.Rules != "" {
			rules = strings.Split(row.Rules, "|")
		}
		s.addColumn(store, row.Name, rules, row.MatchValue)
	}

	if store.Len() == 0 {
		return nil, fmt.Errorf("%w: no columns found", ErrInvalidTemplate)
	}
	return s.Save(ctx, name, store.Columns())
}

// seedFile is the YAML layout of default templates
type seedFile struct {
	Templates []struct {
		Name    string `yaml:"name"`
		Columns []struct {
			Name       string   `yaml:"name"`
			Rules      []string `yaml:"rules"`
			MatchValue string   `yaml:"match_value"`
		} `yaml:"columns"`
	} `yaml:"templates"`
}

// SeedFromFile loads default templates from a YAML file.
// Templates whose name already exists are left alone.
func (s *TemplateService) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	created := 0
	for _, t := range seed.Templates {
		_, err := s.repo.GetByName(ctx, strings.TrimSpace(t.Name))
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrTemplateNotFound) {
			return created, err
		}

		store := projection.NewStore()
		for _, c := range t.Columns {
			s.addColumn(store, c.Name, c.Rules, c.MatchValue)
		}
		if _, err := s.Save(ctx, t.Name, store.Columns()); err != nil {
			return created, fmt.Errorf("failed to seed template %q: %w", t.Name, err)
		}
		created++
	}

	s.logger.Info("templates seeded", slog.String("path", path), slog.Int("created", created))
	return created, nil
}

func (s *TemplateService) addColumn(store *projection.Store, name string, rules []string, value string) {
	if err := store.AddColumn(name); err != nil {
		s.logger.Debug("skipping column", slog.String("name", name), slog.Any("error", err))
		return
	}
	idx := store.Len() - 1
	for _, rule := range rules {
		if err := store.AddRule(idx, strings.TrimSpace(rule)); err != nil {
			s.logger.Debug("skipping rule", slog.String("column", name), slog.String("rule", rule), slog.Any("error", err))
		}
	}
	if value != "" {
		if err := store.SetMatchValue(idx, value); err != nil {
			s.logger.Debug("skipping match value", slog.String("column", name), slog.Any("error", err))
		}
	}
}
