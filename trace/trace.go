// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// trace publishes cache-level events (coin added, coin spent, coin
// uncached, name registered) on a ZeroMQ PUB socket so that external
// tools can observe cache activity without coupling to the cache
// implementation.
package trace

import (
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/bitmark-inc/logger"
	"github.com/bitmark-inc/nmcoind/counter"
	"github.com/bitmark-inc/nmcoind/fault"
)

// Configuration - a block of configuration data for the trace publisher
type Configuration struct {
	Broadcast []string `libucl:"broadcast" json:"broadcast"`
}

// Event - the kind of cache activity being reported
type Event byte

const (
	EventCoinAdded Event = iota
	EventCoinSpent
	EventCoinUncached
	EventNameSet
	EventNameDeleted
)

func (e Event) String() string {
	switch e {
	case EventCoinAdded:
		return "coin-added"
	case EventCoinSpent:
		return "coin-spent"
	case EventCoinUncached:
		return "coin-uncached"
	case EventNameSet:
		return "name-set"
	case EventNameDeleted:
		return "name-deleted"
	default:
		return "unknown"
	}
}

type traceData struct {
	sync.RWMutex
	log         *logger.L
	socket      *zmq.Socket
	eventCount  counter.Counter
	initialised bool
}

var globalData traceData

// Initialise - start the trace publisher, binding a PUB socket to
// every configured broadcast address
func Initialise(configuration *Configuration) error {
	globalData.Lock()
	defer globalData.Unlock()

	if globalData.initialised {
		return fault.ErrAlreadyInitialised
	}

	globalData.log = logger.New("trace")
	globalData.log.Info("starting…")

	socket, err := zmq.NewSocket(zmq.PUB)
	if nil != err {
		return err
	}
	socket.SetLinger(0)

	for _, address := range configuration.Broadcast {
		if err := socket.Bind(address); nil != err {
			socket.Close()
			return err
		}
		globalData.log.Infof("bound to: %s", address)
	}

	globalData.socket = socket
	globalData.initialised = true
	return nil
}

// Finalise - stop the trace publisher
func Finalise() error {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.ErrNotInitialised
	}

	globalData.log.Info("shutting down…")
	globalData.socket.Close()
	globalData.initialised = false
	return nil
}

// Publish - emit an event with an opaque payload (e.g. a serialised
// outpoint or name key). A no-op when the publisher is not running,
// so cache code never has to check whether tracing is enabled.
func Publish(event Event, payload []byte) {
	globalData.RLock()
	defer globalData.RUnlock()

	if !globalData.initialised {
		return
	}

	_, err := globalData.socket.SendMessage([]byte{byte(event)}, payload)
	if nil != err {
		globalData.log.Errorf("publish %s failed: %s", event, err)
		return
	}
	globalData.eventCount.Increment()
}

// EventCount - total events published since Initialise
func EventCount() uint64 {
	return globalData.eventCount.Uint64()
}
