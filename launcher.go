package batchdeployer

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
)

// LaunchRequest everything needed to start one worker
type LaunchRequest struct {
	//Name name of the worker, ApplicationName plus the partition key
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// WorkerHandle a started worker
type WorkerHandle interface {
	Id() string
	//Done closed once the worker exited
	Done() <-chan struct{}
	//Err the exit error of the worker, valid after Done is closed
	Err() error
}

// Launcher start workers; an error means the worker could not be started at all
type Launcher interface {
	Launch(ctx context.Context, request LaunchRequest) (WorkerHandle, error)
}

// CommandLineArgsProvider arguments passed to every worker before the partition arguments
type CommandLineArgsProvider interface {
	Args(partition PartitionDescriptor) []string
}

// PassThroughArgsProvider hand the same fixed arguments to every worker
type PassThroughArgsProvider []string

func (p PassThroughArgsProvider) Args(partition PartitionDescriptor) []string {
	args := make([]string, len(p))
	copy(args, p)
	return args
}

// EnvironmentVariablesProvider environment of every worker
type EnvironmentVariablesProvider interface {
	Env(partition PartitionDescriptor) map[string]string
}

// SimpleEnvProvider environment made of the manager's own environment, when Inherit is set, plus the fixed Vars
type SimpleEnvProvider struct {
	Inherit bool
	Vars    map[string]string
}

func (p *SimpleEnvProvider) Env(partition PartitionDescriptor) map[string]string {
	env := make(map[string]string)
	if p.Inherit {
		for _, kv := range os.Environ() {
			if idx := strings.Index(kv, "="); idx > 0 {
				env[kv[:idx]] = kv[idx+1:]
			}
		}
	}
	for k, v := range p.Vars {
		env[k] = v
	}
	return env
}

type doneHandle struct {
	id   string
	done chan struct{}
	once sync.Once
	err  error
}

func newDoneHandle(id string) *doneHandle {
	return &doneHandle{id: id, done: make(chan struct{})}
}

func (h *doneHandle) Id() string {
	return h.id
}

func (h *doneHandle) Done() <-chan struct{} {
	return h.done
}

func (h *doneHandle) Err() error {
	<-h.done
	return h.err
}

func (h *doneHandle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// ProcessLauncher start each worker as a child process of the manager
type ProcessLauncher struct {
	//Dir working directory of the workers, empty means the manager's
	Dir string
	//Stdout and Stderr receive the output of the workers, nil means the manager's own
	Stdout io.Writer
	Stderr io.Writer
}

func (l *ProcessLauncher) Launch(ctx context.Context, request LaunchRequest) (WorkerHandle, error) {
	if request.Command == "" {
		return nil, errors.Errorf("no worker command for %v", request.Name)
	}
	cmd := exec.Command(request.Command, request.Args...)
	cmd.Dir = l.Dir
	cmd.Env = envList(request.Env)
	cmd.Stdout, cmd.Stderr = l.Stdout, l.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start worker %v failed", request.Name)
	}
	handle := newDoneHandle(fmt.Sprintf("%v-%d", request.Name, cmd.Process.Pid))
	logger.Info(ctx, "worker process started, name:%v, pid:%v", request.Name, cmd.Process.Pid)
	go func() {
		err := cmd.Wait()
		if err != nil {
			err = errors.Wrapf(err, "worker %v exited", request.Name)
		}
		handle.finish(err)
	}()
	return handle, nil
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// WorkerFunc body of an in-process worker, receiving the launch arguments and environment
type WorkerFunc func(ctx context.Context, args []string, env map[string]string) error

// LocalLauncher run each worker as a goroutine of the manager process
type LocalLauncher struct {
	Func WorkerFunc
}

func (l *LocalLauncher) Launch(ctx context.Context, request LaunchRequest) (WorkerHandle, error) {
	if l.Func == nil {
		return nil, errors.New("no worker function configured")
	}
	handle := newDoneHandle(request.Name)
	//workers run to a terminal state even when the manager stops waiting
	go func() {
		defer func() {
			if r := recover(); r != nil {
				handle.finish(errors.Errorf("worker %v panic: %v", request.Name, r))
			}
		}()
		handle.finish(l.Func(context.Background(), request.Args, request.Env))
	}()
	return handle, nil
}

// WorkerLauncher LocalLauncher running w for each partition, worker params are parsed from the launch arguments
func WorkerLauncher(w *Worker) *LocalLauncher {
	return &LocalLauncher{
		Func: func(ctx context.Context, args []string, env map[string]string) error {
			params, err := ParseWorkerArgs(args)
			if err != nil {
				return err
			}
			return w.Handle(ctx, params)
		},
	}
}
