// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sink

import "testing"

func TestSetRecordNumberClampsNegative(t *testing.T) {
	rig := newTestRig(t)

	rig.svc.SetRecordNumber(-5)
	if got := rig.svc.GetRecordNumber(); got != 0 {
		t.Fatalf("negative record number must reset to 0, got %d", got)
	}
	rig.svc.SetRecordNumber(100)
	if got := rig.svc.GetRecordNumber(); got != 100 {
		t.Fatalf("record number: got %d want 100", got)
	}
}

func TestSetFileSizeClampsBelowMinimum(t *testing.T) {
	rig := newTestRig(t)

	rig.svc.SetFileSize(0)
	if got := rig.svc.GetFileSize(); got != BufferSizeBytesDefault {
		t.Fatalf("undersized file size must reset to default, got %d", got)
	}
	rig.svc.SetFileSize(1024)
	if got := rig.svc.GetFileSize(); got != 1024 {
		t.Fatalf("file size: got %d want 1024", got)
	}
}

func TestSetFlushTimeClampsBelowMinimum(t *testing.T) {
	rig := newTestRig(t)

	rig.svc.SetFlushTime(1)
	if got := rig.svc.GetFlushTime(); got != BufferFlushTimeSecMin {
		t.Fatalf("undersized flush time must clamp to minimum, got %d", got)
	}
	rig.svc.SetFlushTime(300)
	if got := rig.svc.GetFlushTime(); got != 300 {
		t.Fatalf("flush time: got %d want 300", got)
	}
}

func TestStartTaskTwiceKeepsFirstContext(t *testing.T) {
	rig := newTestRig(t)

	rig.svc.StartTask("topicA", "topicA", 0)
	first := rig.context(t, "topicA", 0)
	rig.svc.StartTask("topicA", "topicA", 0)
	if rig.context(t, "topicA", 0) != first {
		t.Fatalf("duplicate start must not replace the context")
	}
	if got := rig.svc.GetPartitionCount(); got != 1 {
		t.Fatalf("partition count: got %d want 1", got)
	}
}

func TestStopMarksServiceClosed(t *testing.T) {
	rig := newTestRig(t)
	if rig.svc.IsClosed() {
		t.Fatalf("fresh service must not be closed")
	}
	rig.svc.Stop()
	if !rig.svc.IsClosed() {
		t.Fatalf("stop must mark the service closed")
	}
}
