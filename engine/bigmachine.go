// Copyright 2024 the Mobius authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"encoding/gob"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
)

func init() {
	gob.Register(&workerService{})
}

// Bigmachine is an Engine that drives a host engine process managed by
// bigmachine. The engine itself runs inside the worker machine; the
// driver ships serialized worker functions and encoded partitions over
// bigmachine's RPC transport. Calls respect context cancellation and
// fail terminally when the machine is lost.
type Bigmachine struct {
	system bigmachine.System
	params []bigmachine.Param

	once    sync.Once
	b       *bigmachine.B
	machine *bigmachine.Machine
	err     error
}

// NewBigmachine returns an engine backed by a machine started on the
// provided bigmachine system. The machine is started lazily on first
// use. Any params are applied to the machine at start.
func NewBigmachine(system bigmachine.System, params ...bigmachine.Param) *Bigmachine {
	return &Bigmachine{system: system, params: params}
}

// Shutdown tears down the engine's machines. It must not be called
// while an action is in flight.
func (e *Bigmachine) Shutdown() {
	if e.b != nil {
		e.b.Shutdown()
	}
}

func (e *Bigmachine) start(ctx context.Context) error {
	e.once.Do(func() {
		e.b = bigmachine.Start(e.system)
		params := append([]bigmachine.Param{bigmachine.Services{"Worker": &workerService{}}}, e.params...)
		machines, err := e.b.Start(ctx, 1, params...)
		if err != nil {
			e.err = errors.E(err, "engine: cannot start host engine machine")
			return
		}
		m := machines[0]
		<-m.Wait(bigmachine.Running)
		if err := m.Err(); err != nil {
			e.err = errors.E(err, "engine: host engine machine failed to start")
			return
		}
		e.machine = m
		log.Printf("engine: host machine %s is ready", m.Addr)
	})
	return e.err
}

func (e *Bigmachine) call(ctx context.Context, serviceMethod string, arg, reply interface{}) error {
	if err := e.start(ctx); err != nil {
		return err
	}
	return e.machine.RetryCall(ctx, serviceMethod, arg, reply)
}

// Parallelize implements Engine.
func (e *Bigmachine) Parallelize(ctx context.Context, partitions [][]byte, mode Mode) (Handle, error) {
	var h Handle
	err := e.call(ctx, "Worker.Parallelize", parallelizeRequest{partitions, mode}, &h)
	return h, err
}

// Materialize implements Engine.
func (e *Bigmachine) Materialize(ctx context.Context, p Pipeline) (Handle, error) {
	var h Handle
	err := e.call(ctx, "Worker.Materialize", p, &h)
	return h, err
}

// CreatePairwiseRDD implements Engine.
func (e *Bigmachine) CreatePairwiseRDD(ctx context.Context, p Pipeline, numPartitions int, partitionFuncID uint64) (Handle, error) {
	var h Handle
	err := e.call(ctx, "Worker.Pairwise", pairwiseRequest{p, numPartitions, partitionFuncID}, &h)
	return h, err
}

// Union implements Engine.
func (e *Bigmachine) Union(ctx context.Context, ps []Pipeline) (Handle, error) {
	var h Handle
	err := e.call(ctx, "Worker.Union", ps, &h)
	return h, err
}

// RunJob implements Engine.
func (e *Bigmachine) RunJob(ctx context.Context, p Pipeline, partitions []int) ([][]byte, error) {
	var reply runReply
	if err := e.call(ctx, "Worker.Run", runRequest{p, partitions}, &reply); err != nil {
		return nil, err
	}
	return reply.Partitions, nil
}

// Save implements Engine.
func (e *Bigmachine) Save(ctx context.Context, p Pipeline, path string) error {
	return e.call(ctx, "Worker.Save", saveRequest{p, path}, nil)
}

// NumPartitions implements Engine.
func (e *Bigmachine) NumPartitions(ctx context.Context, h Handle) (int, error) {
	var n int
	err := e.call(ctx, "Worker.NumPartitions", h, &n)
	return n, err
}

type parallelizeRequest struct {
	Partitions [][]byte
	Mode       Mode
}

type pairwiseRequest struct {
	Pipeline        Pipeline
	NumPartitions   int
	PartitionFuncID uint64
}

type runRequest struct {
	Pipeline   Pipeline
	Partitions []int
}

type runReply struct {
	Partitions [][]byte
}

type saveRequest struct {
	Pipeline Pipeline
	Path     string
}

// workerService is the bigmachine service installed on the host
// machine. It fronts an in-process engine: the driver's narrow proxy
// calls arrive here and are answered by the machine-local stage arena.
type workerService struct {
	// Exported just satisfies gob's persnickety nature: we need at
	// least one exported field.
	Exported struct{}

	local *Local
}

// Init implements the bigmachine service initialization hook.
func (w *workerService) Init(b *bigmachine.B) error {
	w.local = NewLocal()
	return nil
}

func (w *workerService) Parallelize(ctx context.Context, req parallelizeRequest, reply *Handle) (err error) {
	*reply, err = w.local.Parallelize(ctx, req.Partitions, req.Mode)
	return err
}

func (w *workerService) Materialize(ctx context.Context, p Pipeline, reply *Handle) (err error) {
	*reply, err = w.local.Materialize(ctx, p)
	return err
}

func (w *workerService) Pairwise(ctx context.Context, req pairwiseRequest, reply *Handle) (err error) {
	*reply, err = w.local.CreatePairwiseRDD(ctx, req.Pipeline, req.NumPartitions, req.PartitionFuncID)
	return err
}

func (w *workerService) Union(ctx context.Context, ps []Pipeline, reply *Handle) (err error) {
	*reply, err = w.local.Union(ctx, ps)
	return err
}

func (w *workerService) Run(ctx context.Context, req runRequest, reply *runReply) (err error) {
	reply.Partitions, err = w.local.RunJob(ctx, req.Pipeline, req.Partitions)
	return err
}

func (w *workerService) Save(ctx context.Context, req saveRequest, _ *struct{}) error {
	return w.local.Save(ctx, req.Pipeline, req.Path)
}

func (w *workerService) NumPartitions(ctx context.Context, h Handle, reply *int) (err error) {
	*reply, err = w.local.NumPartitions(ctx, h)
	return err
}
