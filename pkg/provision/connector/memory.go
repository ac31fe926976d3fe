package connector

import (
	"context"
	"sort"
	"sync"
	"time"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/support/util/configbinder"
	"accord/pkg/provision/support/util/exception"
)

// MemoryConnector is an in-memory Connector used by tests and the demo
// application. Failure injection hooks let tests exercise the engine's retry
// and rejection paths.
type MemoryConnector struct {
	mu      sync.RWMutex
	objects map[string]map[string]model.AttributeMap // objectClass -> uid -> attrs

	// FailNext, when non-nil, is returned by the next mutating call and
	// then cleared. Set an ErrConnectorIO-chained error to simulate an
	// outage.
	FailNext error

	// FailAlways, when non-nil, is returned by every call.
	FailAlways error

	// Latency, when non-nil, is invoked before each call; tests use it to
	// inject random connector latency.
	Latency func()
}

// NewMemoryConnector creates an empty in-memory connector.
func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{objects: make(map[string]map[string]model.AttributeMap)}
}

// MemoryConnectorSettings is the configuration a MemoryConnector binds from
// mapping connector settings.
type MemoryConnectorSettings struct {
	// SimulatedLatencyMillis delays every call, for exercising timeout and
	// backoff behavior against a live engine.
	SimulatedLatencyMillis int `yaml:"simulated_latency_millis"`
}

// NewMemoryConnectorFromSettings creates an in-memory connector configured
// from a mapping's connector settings.
func NewMemoryConnectorFromSettings(settings map[string]string) (*MemoryConnector, error) {
	var cfg MemoryConnectorSettings
	if err := configbinder.BindProperties(settings, &cfg); err != nil {
		return nil, exception.NewProvisioningError("connector",
			"failed to bind memory connector settings", err, false)
	}
	c := NewMemoryConnector()
	if cfg.SimulatedLatencyMillis > 0 {
		delay := time.Duration(cfg.SimulatedLatencyMillis) * time.Millisecond
		c.Latency = func() { time.Sleep(delay) }
	}
	return c, nil
}

func (c *MemoryConnector) injectFailure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailAlways != nil {
		return c.FailAlways
	}
	if c.FailNext != nil {
		err := c.FailNext
		c.FailNext = nil
		return err
	}
	return nil
}

// Seed inserts an object directly, bypassing failure injection.
func (c *MemoryConnector) Seed(objectClass, uid string, attrs model.AttributeMap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.objects[objectClass] == nil {
		c.objects[objectClass] = make(map[string]model.AttributeMap)
	}
	c.objects[objectClass][uid] = attrs.Clone()
}

// Read implements Connector.
func (c *MemoryConnector) Read(ctx context.Context, uid, objectClass string) (*Object, error) {
	if c.Latency != nil {
		c.Latency()
	}
	if err := c.injectFailure(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	attrs, ok := c.objects[objectClass][uid]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &Object{UID: uid, ObjectClass: objectClass, Attributes: attrs.Clone()}, nil
}

// Create implements Connector. A uid collision is reported as a duplicate-key
// rejection.
func (c *MemoryConnector) Create(ctx context.Context, objectClass string, attributes model.AttributeMap) (string, error) {
	if c.Latency != nil {
		c.Latency()
	}
	if err := c.injectFailure(); err != nil {
		return "", err
	}
	uid, _ := attributes["__uid"].(string)
	if uid == "" {
		return "", exception.NewConnectorRejectedError("memory-connector", "create without uid attribute", nil)
	}
	attrs := attributes.Clone()
	delete(attrs, "__uid")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.objects[objectClass] == nil {
		c.objects[objectClass] = make(map[string]model.AttributeMap)
	}
	if _, exists := c.objects[objectClass][uid]; exists {
		return "", exception.NewProvisioningError("memory-connector", "uid already taken: "+uid, exception.ErrDuplicateKey, false)
	}
	c.objects[objectClass][uid] = attrs
	return uid, nil
}

// Update implements Connector.
func (c *MemoryConnector) Update(ctx context.Context, uid, objectClass string, attributes model.AttributeMap) (string, error) {
	if c.Latency != nil {
		c.Latency()
	}
	if err := c.injectFailure(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.objects[objectClass][uid]
	if !ok {
		return "", ErrObjectNotFound
	}
	attrs := attributes.Clone()
	delete(attrs, "__uid")
	for k, v := range attrs {
		existing[k] = v
	}
	return uid, nil
}

// Delete implements Connector.
func (c *MemoryConnector) Delete(ctx context.Context, uid, objectClass string) error {
	if c.Latency != nil {
		c.Latency()
	}
	if err := c.injectFailure(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[objectClass][uid]; !ok {
		return ErrObjectNotFound
	}
	delete(c.objects[objectClass], uid)
	return nil
}

// Search implements Connector. Objects stream in uid order for deterministic
// tests; filter is ignored.
func (c *MemoryConnector) Search(ctx context.Context, objectClass, filter string, handler ResultHandler) error {
	if c.Latency != nil {
		c.Latency()
	}
	if err := c.injectFailure(); err != nil {
		return err
	}
	c.mu.RLock()
	uids := make([]string, 0, len(c.objects[objectClass]))
	for uid := range c.objects[objectClass] {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	snapshot := make([]Object, 0, len(uids))
	for _, uid := range uids {
		snapshot = append(snapshot, Object{UID: uid, ObjectClass: objectClass, Attributes: c.objects[objectClass][uid].Clone()})
	}
	c.mu.RUnlock()

	for _, obj := range snapshot {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !handler(obj) {
			return nil
		}
	}
	return nil
}

var _ Connector = (*MemoryConnector)(nil)
