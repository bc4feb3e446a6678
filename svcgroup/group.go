/*
 *
 * Copyright 2025 shmipc authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package svcgroup implements a supervisor that keeps N replicas of a
// service running, designates exactly one primary, detects failure, and
// elects a standby to replace it.
package svcgroup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/haldor-labs/shmipc/procmgr"
	"github.com/haldor-labs/shmipc/registry"
)

// Role is an instance's current position within the group.
type Role int

const (
	// RoleDead is the zero value: never spawned, or spawned and since
	// found dead. A fresh ManagedInstance starts here.
	RoleDead Role = iota
	RolePrimary
	RoleStandby
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleStandby:
		return "standby"
	default:
		return "dead"
	}
}

// ManagedInstance is one supervised replica.
type ManagedInstance struct {
	ID           int
	Role         Role
	Proc         *procmgr.Handle
	Entry        registry.ServiceEntry
	InstanceName string
}

// IsAlive reports whether the instance's process is still running.
func (m *ManagedInstance) IsAlive() bool {
	return m.Proc != nil && m.Proc.IsAlive()
}

// Config configures a Group.
type Config struct {
	ServiceName  string
	Executable   string
	Replicas     int
	AutoRespawn  bool
	SpawnTimeout time.Duration
}

// DefaultConfig returns a Config with two replicas, auto-respawn enabled,
// and a five-second spawn timeout.
func DefaultConfig(serviceName, executable string) Config {
	return Config{
		ServiceName:  serviceName,
		Executable:   executable,
		Replicas:     2,
		AutoRespawn:  true,
		SpawnTimeout: 5 * time.Second,
	}
}

// Group supervises a fixed set of instances of one logical service.
type Group struct {
	reg        *registry.Registry
	cfg        Config
	instances  []*ManagedInstance
	primaryIdx int // -1 when no instance is primary
}

// New builds a Group bound to reg. Instances are not spawned until Start.
func New(reg *registry.Registry, cfg Config) *Group {
	instances := make([]*ManagedInstance, cfg.Replicas)
	for i := range instances {
		instances[i] = &ManagedInstance{
			ID:           i,
			Role:         RoleDead,
			InstanceName: fmt.Sprintf("%s.%d", cfg.ServiceName, i),
		}
	}
	return &Group{reg: reg, cfg: cfg, instances: instances, primaryIdx: -1}
}

// Start spawns every instance, waits for each to register (polling
// registration and process liveness), then elects a primary. It reports
// success iff at least one instance became primary.
func (g *Group) Start(ctx context.Context) bool {
	for i := range g.instances {
		g.spawnInstance(ctx, i)
	}
	return g.electPrimary()
}

// spawnInstance spawns instance i with its index as sole argument and
// waits up to SpawnTimeout for it to appear in the registry, polling
// every 50ms and aborting early if the worker exits before registering.
func (g *Group) spawnInstance(ctx context.Context, i int) bool {
	g.reg.GC(ctx)

	inst := g.instances[i]
	h, err := procmgr.Spawn(inst.InstanceName, g.cfg.Executable, []string{strconv.Itoa(i)})
	if err != nil {
		return false
	}

	deadline := time.Now().Add(g.cfg.SpawnTimeout)
	for {
		if e, ok, _ := g.reg.Find(ctx, inst.InstanceName); ok {
			inst.Proc = h
			inst.Entry = e
			inst.Role = RoleStandby
			return true
		}
		if !h.IsAlive() {
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// electPrimary promotes the lowest-index alive instance to primary and
// demotes every other alive instance to standby. Returns false if no
// instance is alive.
func (g *Group) electPrimary() bool {
	g.primaryIdx = -1
	for i, inst := range g.instances {
		if inst.IsAlive() {
			inst.Role = RolePrimary
			g.primaryIdx = i
			for j, other := range g.instances {
				if j != i && other.IsAlive() {
					other.Role = RoleStandby
				}
			}
			return true
		}
	}
	return false
}

// HealthCheck scans every non-dead instance for liveness, marks dead ones
// accordingly, re-elects a primary if the primary died, and (if
// AutoRespawn) respawns dead slots as standbys. It returns true iff a
// failover occurred — the caller must re-point its channels to the new
// primary.
func (g *Group) HealthCheck(ctx context.Context) bool {
	failoverNeeded := false
	for _, inst := range g.instances {
		if inst.Role == RoleDead {
			continue
		}
		if !inst.IsAlive() {
			if inst.Role == RolePrimary {
				failoverNeeded = true
			}
			inst.Role = RoleDead
		}
	}

	if failoverNeeded {
		g.electPrimary()
		if g.cfg.AutoRespawn {
			g.respawnDead(ctx)
		}
		return true
	}
	if g.cfg.AutoRespawn {
		g.respawnDead(ctx)
	}
	return false
}

func (g *Group) respawnDead(ctx context.Context) {
	for i, inst := range g.instances {
		if inst.Role == RoleDead {
			g.spawnInstance(ctx, i)
		}
	}
}

// ForceFailover kills the current primary (for testing), reaps it, then
// re-elects and (if AutoRespawn) respawns — grounded exactly on
// `original_source/rust/.../service_group.rs`'s `force_failover`, which
// waits for the kill to be reaped before electing so the election never
// races a not-yet-reaped corpse.
func (g *Group) ForceFailover(ctx context.Context) bool {
	if g.primaryIdx >= 0 {
		inst := g.instances[g.primaryIdx]
		if inst.IsAlive() {
			inst.Proc.ForceKill()
			inst.Proc.WaitForExit(2 * time.Second)
		}
		inst.Role = RoleDead
	}
	ok := g.electPrimary()
	if g.cfg.AutoRespawn {
		g.respawnDead(ctx)
	}
	return ok
}

// Stop gracefully shuts down every live instance.
func (g *Group) Stop(grace time.Duration) {
	for _, inst := range g.instances {
		if inst.IsAlive() {
			inst.Proc.Shutdown(grace)
		}
		inst.Role = RoleDead
	}
	g.primaryIdx = -1
}

// Primary returns the current primary instance, or ok=false if none.
func (g *Group) Primary() (inst *ManagedInstance, ok bool) {
	if g.primaryIdx < 0 {
		return nil, false
	}
	inst = g.instances[g.primaryIdx]
	if inst.Role != RolePrimary {
		return nil, false
	}
	return inst, true
}

// Instances returns every managed instance.
func (g *Group) Instances() []*ManagedInstance { return g.instances }

// AliveCount returns the number of currently live instances.
func (g *Group) AliveCount() int {
	n := 0
	for _, inst := range g.instances {
		if inst.IsAlive() {
			n++
		}
	}
	return n
}
