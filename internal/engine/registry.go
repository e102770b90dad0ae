package engine

import "sync"

// Registry is the process-wide mapping from task id to task handle
// (spec §4.8, "Task registry"). A single coarse lock serializes
// registry operations (insert, lookup, remove); per-task hot paths
// (segment fetch, progress emission) never take it — they operate on
// the *Task directly, which owns its own atomics and its own
// cancellation switch. This generalizes the teacher's JobQueue
// (internal/server/job.go) from a worker-pool queue into a plain
// handle map, since task admission is the caller's responsibility
// here (spec §4.6 notes admission belongs to the UI collaborator, not
// the engine).
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// insert adds task under id if no task is already registered there,
// returning the task that ends up owning id and whether it was newly
// inserted.
func (r *Registry) insert(id string, newTask func() *Task) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tasks[id]; ok {
		return existing, false
	}
	task := newTask()
	r.tasks[id] = task
	return task, true
}

// remove deletes id from the registry and returns the task it held,
// if any.
func (r *Registry) remove(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	delete(r.tasks, id)
	return task, ok
}

// Get returns the task for id, if the registry still owns it.
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	return task, ok
}

// List returns a snapshot of every task the registry currently owns.
func (r *Registry) List() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	return tasks
}
