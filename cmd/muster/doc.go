// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// muster coordinates one node of a multi-host training job. Every host
// runs the same command; the cluster descriptor decides which host is
// the master (the first one) and which are workers.
//
//	muster --dist-env-file /opt/ml/input/config/resourceconfig.json \
//	    --artifact-root /mnt/shared/bundles --input graph=/opt/ml/input/graph \
//	    --output-source /opt/ml/model --output-destination model-job-42 \
//	    -- python3 train.py --epochs 3
//
// Workers connect to the master, every node fetches its inputs, and
// all of them meet at a barrier. The master then runs the workload
// while heartbeating the workers, and tells them to exit once the
// workload is done. The master's exit status is 0 only if the workload
// exited 0; workers exit 0 once released.
//
// Settings come from the YAML file named by --config or MUSTER_CONFIG,
// with built-in defaults when neither is given.
package main
