// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by muster.
//
// Components that wait (the worker's connect backoff, the master's
// keep-alive ticker, the optional barrier timeout, the workload
// settle delay) take a Clock instead of calling the time package. In
// production they receive Real(). Tests construct Fake(epoch), start
// the component, call WaitForTimers until the component has
// registered its wait, and then Advance deterministically:
//
//	fake := clock.Fake(epoch)
//	go worker.connect(ctx)      // retries via fake.After(backoff)
//	fake.WaitForTimers(1)
//	fake.Advance(backoff)
//
// Socket deadlines are the one exception: net.Conn deadlines are
// absolute wall-clock instants and always use the time package.
package clock
