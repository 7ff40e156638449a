// Package types defines the domain model shared across the control plane:
// the four persisted/observed views of a replica group, the coordination
// store's health vocabulary, and the task log's record shape.
package types

import "time"

// GroupState is the control plane's view of a group's lifecycle progress.
// It is never persisted directly; it is derived from the presence of the
// four views in a Snapshot.
type GroupState string

const (
	GroupNonexistent  GroupState = "nonexistent"
	GroupBlueprinted  GroupState = "blueprinted"
	GroupAllocated    GroupState = "allocated"
	GroupRegistered   GroupState = "registered"
	GroupRunning      GroupState = "running"
	GroupRunningHalf  GroupState = "running_half"
)

// InstanceNum is one of "1" or "2" (Invariant 1: exactly two instances).
type InstanceNum string

const (
	Instance1 InstanceNum = "1"
	Instance2 InstanceNum = "2"
)

// Peer returns the other instance number of the pair.
func (n InstanceNum) Peer() InstanceNum {
	if n == Instance1 {
		return Instance2
	}
	return Instance1
}

// Valid reports whether n is one of the two accepted instance numbers.
func (n InstanceNum) Valid() bool {
	return n == Instance1 || n == Instance2
}

// Blueprint is the persisted desired state of a group.
type Blueprint struct {
	GroupID      string
	Type         string
	Name         string
	MemsizeGiB   float64
	CheckPeriod  int // seconds
	CreationTime time.Time
	Instances    map[InstanceNum]BlueprintInstance
}

// BlueprintInstance is the per-instance portion of a Blueprint.
type BlueprintInstance struct {
	Addr string // IPv4
}

// Complete reports whether every required blueprint key is present. A group
// with a partial blueprint is treated as absent by readers (§6.1).
func (b *Blueprint) Complete() bool {
	if b == nil || b.Type == "" || b.Name == "" || b.CreationTime.IsZero() {
		return false
	}
	for _, n := range []InstanceNum{Instance1, Instance2} {
		inst, ok := b.Instances[n]
		if !ok || inst.Addr == "" {
			return false
		}
	}
	return true
}

// Allocation is the persisted placement decision of a group.
type Allocation struct {
	GroupID   string
	Instances map[InstanceNum]AllocationInstance
}

// AllocationInstance is the per-instance portion of an Allocation. HostRef
// may be either a container-host network address or a coordination-node
// name (§3, §4.H).
type AllocationInstance struct {
	HostRef string
}

// Complete reports whether both instances have a placement decision.
func (a *Allocation) Complete() bool {
	if a == nil {
		return false
	}
	i1, ok1 := a.Instances[Instance1]
	i2, ok2 := a.Instances[Instance2]
	return ok1 && ok2 && i1.HostRef != "" && i2.HostRef != ""
}

// CheckStatus is the aggregated health of a coordination-store check.
type CheckStatus string

const (
	StatusPassing  CheckStatus = "passing"
	StatusWarning  CheckStatus = "warning"
	StatusCritical CheckStatus = "critical"
)

// AggregateStatus collapses a list of check statuses per Invariant 7:
// critical if any is critical, else warning if any is warning, else
// passing. An empty list aggregates to passing.
func AggregateStatus(statuses []CheckStatus) CheckStatus {
	seenWarning := false
	for _, s := range statuses {
		switch s {
		case StatusCritical:
			return StatusCritical
		case StatusWarning:
			seenWarning = true
		}
	}
	if seenWarning {
		return StatusWarning
	}
	return StatusPassing
}

// Check is a single named health check attached to a service registration.
type Check struct {
	ID       string
	Name     string
	Script   string
	Interval time.Duration
	Status   CheckStatus
}

// ServiceRecord is a service's runtime registration in the coordination
// store, keyed by ServiceID = groupID + "_" + instanceNum.
type ServiceRecord struct {
	ServiceID   string
	GroupID     string
	Instance    InstanceNum
	Name        string
	Tags        []string
	Addr        string
	Port        int
	CoordNode   string // the coordination agent the record lives on (Invariant 5)
	Checks      []Check
}

// Status aggregates the service's own checks per Invariant 7.
func (s *ServiceRecord) Status() CheckStatus {
	statuses := make([]CheckStatus, len(s.Checks))
	for i, c := range s.Checks {
		statuses[i] = c.Status
	}
	return AggregateStatus(statuses)
}

// Container is a runtime container observed on a host. A tarantool
// instance's container is named "<groupID>_<instanceNum>", which the engine
// may report with a leading "/"; group projection (pkg/projection) trims
// that and parses the name rather than relying on it being pre-split, to match the
// shape of the catalog and KV views it also parses.
type Container struct {
	ID          string
	Name        string
	Labels      []string
	HostAddr    string
	Networks    map[string]string // network name -> IPv4 address on that network
	State       string            // e.g. "running", "exited"
	Mounts      []Mount
	Environment map[string]string
}

// IsRunning reports whether the container's observed state is running
// (Invariant 4 concerns Addr; this concerns runtime state).
func (c *Container) IsRunning() bool {
	return c.State == "running"
}

// AddrOn returns the container's "<ipv4>:3301" address on the named
// network, and whether it has an assignment there at all.
func (c *Container) AddrOn(networkName string) (string, bool) {
	ip, ok := c.Networks[networkName]
	if !ok || ip == "" {
		return "", false
	}
	return ip + ":3301", true
}

// Mount is a bind mount observed on a container, used by Upgrade to
// preserve everything except the application code mount.
type Mount struct {
	Source      string
	Destination string
}

// Host is a container host discovered via the coordination store's
// "docker" service.
type Host struct {
	Addr         string
	CoordNode    string
	Status       CheckStatus
	CPUs         int
	MemoryGiB    float64
	UsedGiB      float64
}

// ResidualGiB is the host's unused memory capacity.
func (h *Host) ResidualGiB() float64 {
	r := h.MemoryGiB - h.UsedGiB
	if r < 0 {
		return 0
	}
	return r
}

// TaskType discriminates task records in place of class inheritance
// (Design Note "Polymorphism of tasks").
type TaskType string

const (
	TaskCreate      TaskType = "create_tarantool"
	TaskDelete      TaskType = "delete_tarantool"
	TaskUpdate      TaskType = "update_tarantool"
)

// TaskStatus is the monotonic status of a task: RUNNING -> {SUCCESS,CRITICAL}.
type TaskStatus string

const (
	TaskRunning  TaskStatus = "RUNNING"
	TaskSuccess  TaskStatus = "SUCCESS"
	TaskCritical TaskStatus = "CRITICAL"
)

// TaskMessage is one timestamped step message appended to a task's log.
type TaskMessage struct {
	At      time.Time
	Message string
}

// Task is a single lifecycle operation's append-only log and terminal
// status (§4.G).
type Task struct {
	ID       string
	Type     TaskType
	GroupID  string
	Status   TaskStatus
	Messages []TaskMessage
	Error    string
}
