package ai

import (
	"errors"
	"fmt"

	"github.com/garyjia/lotus/internal/application/port"
)

// Tier selects a class of model, trading cost against accuracy
type Tier string

const (
	// TierLocal is a fast, free, lower-accuracy model
	TierLocal Tier = "local"
	// TierCloud is a slower, metered, higher-accuracy model
	TierCloud Tier = "cloud"
)

// String returns the string representation of the tier
func (t Tier) String() string {
	return string(t)
}

// ErrNoRoute is returned when a routing strategy has no client for a tier
var ErrNoRoute = errors.New("no model client for tier")

// RoutingStrategy picks the model client serving a tier.
// Swap it to change routing without touching the stages.
type RoutingStrategy interface {
	Route(tier Tier) (port.ModelClient, error)
}

// TierResolver is implemented by routers that may serve a tier with a
// client of another tier. Calls are counted against the served tier.
type TierResolver interface {
	ServedTier(requested Tier) Tier
}

// TwoTierRouter is a fixed dispatch table from tier to client
type TwoTierRouter struct {
	clients map[Tier]port.ModelClient
}

// NewTwoTierRouter creates the default local/cloud dispatch table
func NewTwoTierRouter(local, cloud port.ModelClient) *TwoTierRouter {
	return &TwoTierRouter{
		clients: map[Tier]port.ModelClient{
			TierLocal: local,
			TierCloud: cloud,
		},
	}
}

// Route returns the client registered for the tier
func (r *TwoTierRouter) Route(tier Tier) (port.ModelClient, error) {
	client, ok := r.clients[tier]
	if !ok || client == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, tier)
	}
	return client, nil
}

// CloudOnlyRouter sends every tier to the cloud client, for deployments
// without a local model
type CloudOnlyRouter struct {
	cloud port.ModelClient
}

// NewCloudOnlyRouter creates a router that never uses a local model
func NewCloudOnlyRouter(cloud port.ModelClient) *CloudOnlyRouter {
	return &CloudOnlyRouter{cloud: cloud}
}

// Route returns the cloud client for any tier
func (r *CloudOnlyRouter) Route(tier Tier) (port.ModelClient, error) {
	if r.cloud == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, tier)
	}
	return r.cloud, nil
}

// ServedTier reports cloud for every request
func (r *CloudOnlyRouter) ServedTier(Tier) Tier {
	return TierCloud
}
