package capabilities

import (
	"github.com/dohr-michael/steward/internal/memory"
	"github.com/dohr-michael/steward/internal/tasks"
)

// Deps are the stores the built-in capabilities act on.
type Deps struct {
	Tasks  *tasks.Service
	Memory memory.Store
}

// RegisterBuiltins registers every built-in capability.
func RegisterBuiltins(r *Registry, deps Deps) error {
	taskTools := &taskCapabilities{svc: deps.Tasks, store: deps.Tasks.Store()}
	memTools := &memoryCapabilities{store: deps.Memory}

	all := []struct {
		spec Spec
		run  RunFunc
	}{
		{listTasksSpec, taskTools.list},
		{getTaskSpec, taskTools.get},
		{createTaskSpec, taskTools.create},
		{updateTaskSpec, taskTools.update},
		{addCommentSpec, taskTools.comment},
		{searchMemorySpec, memTools.search},
		{addMemorySpec, memTools.add},
		{askUserSpec, askUser},
	}
	for _, c := range all {
		if err := r.Register(c.spec, c.run); err != nil {
			return err
		}
	}
	return nil
}
