package providers

import (
	"context"
	"log"

	"github.com/shopspring/decimal"
)

// Features is static capability, fee and limit metadata per provider. It
// feeds selection decisions only; adapters do not enforce it.
type Features struct {
	InstantTransfers    bool            `json:"instantTransfers"`
	WireTransfers       bool            `json:"wireTransfers"`
	ExternalBankLinking bool            `json:"externalBankLinking"`
	MaxTransferAmount   decimal.Decimal `json:"maxTransferAmount"`
	TransferFee         decimal.Decimal `json:"transferFee"`
	SettlementDays      int             `json:"settlementDays"`
}

// Criteria is the caller-supplied input to provider recommendation.
type Criteria struct {
	RequiresInstantTransfer bool            `json:"requiresInstantTransfer"`
	RequiresWireTransfer    bool            `json:"requiresWireTransfer"`
	RequiresExternalLinking bool            `json:"requiresExternalLinking"`
	TransferAmount          decimal.Decimal `json:"transferAmount"`
}

// DefaultFeatures returns the shipped capability table.
func DefaultFeatures() map[Type]Features {
	return map[Type]Features{
		TypeDwolla: {
			InstantTransfers:    true,
			WireTransfers:       false,
			ExternalBankLinking: true,
			MaxTransferAmount:   decimal.NewFromInt(500000),
			TransferFee:         decimal.NewFromFloat(0.5),
			SettlementDays:      1,
		},
		TypeProxy: {
			InstantTransfers:    false,
			WireTransfers:       true,
			ExternalBankLinking: false,
			MaxTransferAmount:   decimal.NewFromInt(100000),
			TransferFee:         decimal.Zero,
			SettlementDays:      3,
		},
	}
}

// Registry holds exactly one long-lived instance per provider type. It is
// constructed once at startup and passed to consumers; there are no
// ambient singletons.
type Registry struct {
	providers map[Type]Provider
	features  map[Type]Features
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[Type]Provider),
		features:  make(map[Type]Features),
	}
}

// Register adds a provider instance with its feature metadata. A second
// registration for the same type replaces the first.
func (r *Registry) Register(p Provider, f Features) {
	r.providers[p.Type()] = p
	r.features[p.Type()] = f
}

// Get returns the registered provider for t.
func (r *Registry) Get(t Type) (Provider, error) {
	p, ok := r.providers[t]
	if !ok {
		return nil, NewError(ErrCodeProviderNotFound, "no provider registered for type "+string(t))
	}
	return p, nil
}

// Features returns the static metadata for t.
func (r *Registry) Features(t Type) (Features, error) {
	f, ok := r.features[t]
	if !ok {
		return Features{}, NewError(ErrCodeProviderNotFound, "no provider registered for type "+string(t))
	}
	return f, nil
}

// Types lists the registered provider types in a fixed order.
func (r *Registry) Types() []Type {
	ordered := []Type{TypeDwolla, TypeProxy}
	var out []Type
	for _, t := range ordered {
		if _, ok := r.providers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Recommend applies the selection policy in fixed priority order. This is
// a policy table, not a scoring function; the ordering is load-bearing.
func (r *Registry) Recommend(c Criteria) Type {
	if c.RequiresInstantTransfer {
		return TypeDwolla
	}
	if c.RequiresExternalLinking {
		return TypeDwolla
	}
	if c.RequiresWireTransfer {
		return TypeProxy
	}
	if proxyFeatures, ok := r.features[TypeProxy]; ok && c.TransferAmount.GreaterThan(proxyFeatures.MaxTransferAmount) {
		return TypeDwolla
	}
	return TypeDwolla
}

// MigrateCustomer reads a customer from one provider and re-creates an
// equivalent identity on another. Accounts, balances and transfer history
// are explicitly not migrated.
func (r *Registry) MigrateCustomer(ctx context.Context, id string, from, to Type) (*Customer, error) {
	source, err := r.Get(from)
	if err != nil {
		return nil, err
	}
	target, err := r.Get(to)
	if err != nil {
		return nil, err
	}

	customer, err := source.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	migrated, err := target.CreateCustomer(ctx, CustomerInput{
		FirstName: customer.FirstName,
		LastName:  customer.LastName,
		Email:     customer.Email,
		Phone:     customer.Phone,
		Metadata: map[string]string{
			"migratedFrom": string(from),
			"externalId":   customer.ID,
		},
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[REGISTRY] migrated customer %s from %s to %s as %s", id, from, to, migrated.ID)
	return migrated, nil
}
