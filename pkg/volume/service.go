package volume

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/covekit/cove/pkg/config"
	"github.com/covekit/cove/pkg/errdefs"
	"github.com/covekit/cove/pkg/events"
	"github.com/covekit/cove/pkg/log"
	"github.com/covekit/cove/pkg/pool"
)

// defaultRemoteCommand is the binary the push protocol invokes on the
// destination endpoint.
const defaultRemoteCommand = "cove"

// ServiceConfig holds configuration for creating a Service.
type ServiceConfig struct {
	// Config persists the owner identity.
	Config *config.Store

	// Pool is the storage pool this service exclusively manages.
	Pool *pool.Pool

	// Broker, if set, receives volume lifecycle events.
	Broker *events.Broker

	// RemoteCommand overrides the binary name run on push destinations.
	RemoteCommand string
}

// Service is the top-level volume façade for one host. It owns a persistent
// identity and a storage pool, and exposes volume lifecycle operations plus
// the push/receive replication protocol.
type Service struct {
	store  *config.Store
	pool   *pool.Pool
	broker *events.Broker
	remote string
	uuid   string
	locks  *nameLocks
	logger zerolog.Logger
}

// NewService creates a new Service instance. The owner identity is not
// loaded until Start.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("service requires a config store")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("service requires a pool")
	}

	remote := cfg.RemoteCommand
	if remote == "" {
		remote = defaultRemoteCommand
	}

	return &Service{
		store:  cfg.Config,
		pool:   cfg.Pool,
		broker: cfg.Broker,
		remote: remote,
		locks:  newNameLocks(),
		logger: log.WithComponent("volume-service"),
	}, nil
}

// Start loads the owner identity, generating and persisting one on first
// run. It must be called before any other operation.
func (s *Service) Start() error {
	cfg, err := s.store.LoadOrCreate()
	if err != nil {
		return err
	}
	s.uuid = cfg.OwnerUUID
	s.logger = s.logger.With().Str("owner_uuid", s.uuid).Logger()
	s.logger.Info().Str("config", s.store.Path()).Msg("volume service started")
	return nil
}

// UUID returns the service's owner identity. Stable for the life of the
// configuration location.
func (s *Service) UUID() string { return s.uuid }

// Pool returns the storage pool this service manages.
func (s *Service) Pool() *pool.Pool { return s.pool }

// Create allocates a new volume owned by this service.
func (s *Service) Create(name string) (*Volume, error) {
	release, err := s.locks.acquire(name)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.pool.Create(name); err != nil {
		return nil, err
	}

	s.publish(events.EventVolumeCreated, name, nil)
	return New(s.uuid, name, s.pool), nil
}

// Get returns the named volume.
func (s *Service) Get(name string) (*Volume, error) {
	if _, err := s.pool.Get(name); err != nil {
		return nil, err
	}
	return New(s.uuid, name, s.pool), nil
}

// Enumerate returns every volume currently in the pool, attributed to this
// service's identity.
func (s *Service) Enumerate() ([]*Volume, error) {
	names, err := s.pool.Enumerate()
	if err != nil {
		return nil, err
	}
	volumes := make([]*Volume, 0, len(names))
	for _, name := range names {
		volumes = append(volumes, New(s.uuid, name, s.pool))
	}
	return volumes, nil
}

// Receive applies a snapshot diff stream to the named volume, creating or
// updating its backing dataset atomically. The resulting volume is
// attributed to this service's identity, not the origin's: the destination
// holds its own copy. originUUID identifies the pushing service and is
// recorded for observability only.
func (s *Service) Receive(originUUID, name string, r io.Reader) (*Volume, error) {
	release, err := s.locks.acquire(name)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.pool.Receive(name, r); err != nil {
		return nil, err
	}

	s.logger.Info().Str("volume", name).Str("origin_uuid", originUUID).Msg("volume received")
	s.publish(events.EventVolumeReceived, name, map[string]string{"origin_uuid": originUUID})
	return New(s.uuid, name, s.pool), nil
}

// Destroy removes the named volume's backing dataset and snapshots.
func (s *Service) Destroy(name string) error {
	release, err := s.locks.acquire(name)
	if err != nil {
		return err
	}
	defer release()

	if err := s.pool.Destroy(name); err != nil {
		return err
	}

	s.publish(events.EventVolumeDestroyed, name, nil)
	return nil
}

// SnapshotIDs returns the named volume's snapshot identifiers in creation
// order, or an empty list if the volume does not exist. This is the
// describe side of the push protocol's base selection.
func (s *Service) SnapshotIDs(name string) ([]pool.SnapshotID, error) {
	fs, err := s.pool.Get(name)
	if errdefs.IsNotFound(err) {
		return []pool.SnapshotID{}, nil
	}
	if err != nil {
		return nil, err
	}
	snaps, err := fs.Snapshots()
	if err != nil {
		return nil, err
	}
	ids := make([]pool.SnapshotID, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.ID)
	}
	return ids, nil
}

func (s *Service) publish(t events.EventType, name string, meta map[string]string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:      t,
		Volume:    name,
		OwnerUUID: s.uuid,
		Metadata:  meta,
	})
}
