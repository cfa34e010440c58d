// Package catalog provides the read-only plan and service catalogs the engine
// consults. The catalog is owned by the booking system; here it is loaded from
// a JSON file at boot, or falls back to the built-in defaults.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/opalworks/spaledger/pkg/engine"
)

type planEntry struct {
	PlanID         string         `json:"plan_id"`
	Title          string         `json:"title"`
	Minutes        int64          `json:"minutes"`
	BillingPriceID string         `json:"billing_price_id"`
	GuestPasses    guestPassEntry `json:"guest_passes"`
}

type guestPassEntry struct {
	Quantity int    `json:"quantity"`
	Period   string `json:"period"`
}

type serviceEntry struct {
	ServiceID string `json:"service_id"`
	Name      string `json:"name"`
}

type catalogFile struct {
	Plans    []planEntry    `json:"plans"`
	Services []serviceEntry `json:"services"`
}

// Static holds the catalogs in memory. It implements engine.PlanCatalog and
// engine.ServiceCatalog.
type Static struct {
	plans    map[string]engine.Plan
	services map[string]engine.ServiceInfo
}

// Load reads a catalog JSON file.
func Load(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return fromFile(file)
}

// Default returns the built-in catalog used when no file is configured.
func Default() *Static {
	static, err := fromFile(catalogFile{
		Plans: []planEntry{
			{
				PlanID:         "essentiel",
				Title:          "Essentiel",
				Minutes:        50,
				BillingPriceID: "price_essentiel",
				GuestPasses:    guestPassEntry{Quantity: 1, Period: "month"},
			},
			{
				PlanID:         "serenite",
				Title:          "Sérénité",
				Minutes:        120,
				BillingPriceID: "price_serenite",
				GuestPasses:    guestPassEntry{Quantity: 4, Period: "week"},
			},
		},
		Services: []serviceEntry{
			{ServiceID: "svc-massage", Name: "Massage californien"},
			{ServiceID: "svc-hammam", Name: "Hammam"},
			{ServiceID: "svc-soin-visage", Name: "Soin du visage"},
		},
	})
	if err != nil {
		panic(err)
	}
	return static
}

func fromFile(file catalogFile) (*Static, error) {
	static := &Static{
		plans:    make(map[string]engine.Plan, len(file.Plans)),
		services: make(map[string]engine.ServiceInfo, len(file.Services)),
	}
	for _, entry := range file.Plans {
		planID, err := engine.NewPlanID(entry.PlanID)
		if err != nil {
			return nil, fmt.Errorf("plan %q: %w", entry.PlanID, err)
		}
		minutes, err := engine.NewMinutes(entry.Minutes)
		if err != nil {
			return nil, fmt.Errorf("plan %q minutes: %w", entry.PlanID, err)
		}
		period := engine.QuotaPeriod(entry.GuestPasses.Period)
		if period != engine.QuotaPeriodWeek && period != engine.QuotaPeriodMonth {
			return nil, fmt.Errorf("plan %q: unknown quota period %q", entry.PlanID, entry.GuestPasses.Period)
		}
		static.plans[entry.PlanID] = engine.Plan{
			PlanID:         planID,
			Title:          entry.Title,
			Minutes:        minutes,
			BillingPriceID: entry.BillingPriceID,
			GuestPasses: engine.GuestPassAllowance{
				Quantity: entry.GuestPasses.Quantity,
				Period:   period,
			},
		}
	}
	for _, entry := range file.Services {
		serviceID, err := engine.NewServiceID(entry.ServiceID)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", entry.ServiceID, err)
		}
		static.services[entry.ServiceID] = engine.ServiceInfo{
			ServiceID: serviceID,
			Name:      entry.Name,
		}
	}
	return static, nil
}

func (static *Static) GetPlan(_ context.Context, planID engine.PlanID) (engine.Plan, error) {
	plan, found := static.plans[planID.String()]
	if !found {
		return engine.Plan{}, fmt.Errorf("%w: %s", engine.ErrPlanNotFound, planID.String())
	}
	return plan, nil
}

func (static *Static) GetService(_ context.Context, serviceID engine.ServiceID) (engine.ServiceInfo, error) {
	serviceInfo, found := static.services[serviceID.String()]
	if !found {
		return engine.ServiceInfo{}, fmt.Errorf("%w: %s", engine.ErrServiceNotFound, serviceID.String())
	}
	return serviceInfo, nil
}
