package entity

import (
	"encoding/json"
	"strings"
	"testing"
)

func eventJSON(t *testing.T, e *ChatEvent) (string, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return string(raw), m
}

func TestChunkingInitEventWireFormat(t *testing.T) {
	_, m := eventJSON(t, NewChunkingInitEvent(4, 40))
	if m["type"] != "chunking_init" {
		t.Errorf("type = %v", m["type"])
	}
	if m["totalChunks"] != float64(4) {
		t.Errorf("totalChunks = %v", m["totalChunks"])
	}
	if m["estimatedSeconds"] != float64(40) {
		t.Errorf("estimatedSeconds = %v, want 40", m["estimatedSeconds"])
	}
}

func TestChunkingProgressEventWireFormat(t *testing.T) {
	raw, m := eventJSON(t, NewChunkingProgressEvent("map", 2, 4))
	if m["stage"] != "map" || m["chunkIndex"] != float64(2) || m["totalChunks"] != float64(4) {
		t.Errorf("progress frame = %s", raw)
	}
	// 旧键名不应再出现
	if strings.Contains(raw, `"current"`) || strings.Contains(raw, `"total":`) {
		t.Errorf("progress frame carries stale keys: %s", raw)
	}

	// reduce/final 阶段不带分片序号
	raw, _ = eventJSON(t, NewChunkingProgressEvent("reduce", 0, 4))
	if strings.Contains(raw, `"chunkIndex"`) {
		t.Errorf("reduce frame should omit chunkIndex: %s", raw)
	}
}

func TestChunkingChunkEventWireFormat(t *testing.T) {
	_, m := eventJSON(t, NewChunkingChunkEvent(2, "任务 5，风险 1"))
	if m["type"] != "chunking_chunk" {
		t.Errorf("type = %v", m["type"])
	}
	if m["chunkIndex"] != float64(2) {
		t.Errorf("chunkIndex = %v", m["chunkIndex"])
	}
	if m["chunkSummary"] != "任务 5，风险 1" {
		t.Errorf("chunkSummary = %v", m["chunkSummary"])
	}
}

func TestDoneEventWireFormat(t *testing.T) {
	_, m := eventJSON(t, NewDoneEvent("c1", "m1", nil))
	if m["done"] != true || m["assistantMessageId"] != "m1" {
		t.Errorf("terminal frame = %v", m)
	}
}
