package db

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"sitecheck/internal/model"

	"go.uber.org/zap"
)

// Seed is the JSON document the development database starts from
type Seed struct {
	Templates []model.ChecklistTemplate `json:"templates"`
	Instances []model.ChecklistInstance `json:"instances"`
}

// Pool owns the in-memory tables of the development API
type Pool struct {
	*Queries
	log *zap.Logger
}

// NewPool loads seedFile, or the demo seed when seedFile is empty
func NewPool(seedFile string, log *zap.Logger) (*Pool, error) {
	if log == nil {
		log = zap.NewNop()
	}

	seed := DemoSeed()
	if seedFile != "" {
		f, err := os.Open(seedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()

		seed, err = LoadSeed(f)
		if err != nil {
			return nil, fmt.Errorf("failed to load seed %s: %w", seedFile, err)
		}
	}

	q := NewQueries()
	if err := q.Apply(seed); err != nil {
		return nil, err
	}

	log.Info("Database seeded",
		zap.Int("templates", len(seed.Templates)),
		zap.Int("instances", len(seed.Instances)),
	)
	return &Pool{Queries: q, log: log}, nil
}

func LoadSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return seed, nil
}

func (p *Pool) Close() {}

// DemoSeed is a small two-section checklist used when no seed file is configured
func DemoSeed() Seed {
	tpl := model.ChecklistTemplate{
		ID:   "tpl-handover",
		Name: "Unit handover",
		Subsections: []model.Subsection{
			{
				ID:         "sub-exterior",
				TemplateID: "tpl-handover",
				Order:      1,
				Name:       "Exterior",
				Items: []model.ItemTemplate{
					{ID: "item-facade", SubsectionID: "sub-exterior", Order: 1, Name: "Facade finish", RequiresPhoto: true},
					{ID: "item-gutters", SubsectionID: "sub-exterior", Order: 2, Name: "Gutters and downpipes"},
				},
			},
			{
				ID:         "sub-interior",
				TemplateID: "tpl-handover",
				Order:      2,
				Name:       "Interior",
				Items: []model.ItemTemplate{
					{ID: "item-walls", SubsectionID: "sub-interior", Order: 1, Name: "Walls and ceilings", RequiresNote: true},
					{ID: "item-handover", SubsectionID: "sub-interior", Order: 2, Name: "Owner acceptance", RequiresSignature: true},
				},
			},
		},
	}
	return Seed{
		Templates: []model.ChecklistTemplate{tpl},
		Instances: []model.ChecklistInstance{{
			ID:             "inst-demo",
			TemplateID:     tpl.ID,
			ProjectID:      "proj-demo",
			InspectionID:   "insp-demo",
			UnitIdentifier: "Unit 4B",
			Status:         model.InstanceInProgress,
		}},
	}
}
