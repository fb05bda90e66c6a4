package entity

// EventType 推送给客户端的事件类型
type EventType string

const (
	// EventInit 流开始，携带本次请求的各个 ID
	EventInit EventType = "init"
	// EventToolCall 工具调用开始
	EventToolCall EventType = "toolCall"
	// EventChunkingInit 长文本分片完成，开始 map 阶段
	EventChunkingInit EventType = "chunking_init"
	// EventChunkingProgress 长文本处理进度
	EventChunkingProgress EventType = "chunking_progress"
	// EventChunkingChunk 单个分片处理完成
	EventChunkingChunk EventType = "chunking_chunk"
	// EventResume 多智能体会话从断点恢复
	EventResume EventType = "resume"
	// EventSessionComplete 多智能体全部轮次完成
	EventSessionComplete EventType = "session_complete"
)

// ToolCallInfo 工具调用的描述信息
type ToolCallInfo struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// ChatEvent 聊天流中的一帧。普通内容帧不带 type，只有 content 是累计全文。
type ChatEvent struct {
	Type               EventType     `json:"type,omitempty"`
	Content            string        `json:"content,omitempty"`
	Thinking           string        `json:"thinking,omitempty"`
	Sources            []Source      `json:"sources,omitempty"`
	ToolCall           *ToolCallInfo `json:"toolCall,omitempty"`
	ConversationID     string        `json:"conversationId,omitempty"`
	UserMessageID      string        `json:"userMessageId,omitempty"`
	AssistantMessageID string        `json:"assistantMessageId,omitempty"`
	Done               bool          `json:"done,omitempty"`
	Error              string        `json:"error,omitempty"`

	// 长文本分片进度，序号从 1 开始
	TotalChunks      int    `json:"totalChunks,omitempty"`
	ChunkIndex       int    `json:"chunkIndex,omitempty"`
	Stage            string `json:"stage,omitempty"`
	EstimatedSeconds int    `json:"estimatedSeconds,omitempty"`
	ChunkSummary     string `json:"chunkSummary,omitempty"`

	// 多智能体会话
	ResumedFromRound  int `json:"resumedFromRound,omitempty"`
	ContinueFromRound int `json:"continueFromRound,omitempty"`
	Rounds            int `json:"rounds,omitempty"`
}

// NewInitEvent 流开始事件
func NewInitEvent(conversationID, userMessageID, assistantMessageID string) *ChatEvent {
	return &ChatEvent{
		Type:               EventInit,
		ConversationID:     conversationID,
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
	}
}

// NewToolCallEvent 工具调用事件
func NewToolCallEvent(tool string, params map[string]interface{}) *ChatEvent {
	return &ChatEvent{
		Type:     EventToolCall,
		Content:  "正在执行工具...",
		ToolCall: &ToolCallInfo{Tool: tool, Params: params},
	}
}

// NewDoneEvent 终止事件
func NewDoneEvent(conversationID, assistantMessageID string, sources []Source) *ChatEvent {
	return &ChatEvent{
		Done:               true,
		ConversationID:     conversationID,
		AssistantMessageID: assistantMessageID,
		Sources:            sources,
	}
}

// NewErrorEvent 错误事件
func NewErrorEvent(message string) *ChatEvent {
	return &ChatEvent{Error: message}
}

// NewChunkingInitEvent 分片完成事件，附带整条流水线的预估耗时
func NewChunkingInitEvent(totalChunks, estimatedSeconds int) *ChatEvent {
	return &ChatEvent{
		Type:             EventChunkingInit,
		TotalChunks:      totalChunks,
		EstimatedSeconds: estimatedSeconds,
	}
}

// NewChunkingProgressEvent 长文本处理进度事件，map 阶段带分片序号
func NewChunkingProgressEvent(stage string, chunkIndex, totalChunks int) *ChatEvent {
	return &ChatEvent{
		Type:        EventChunkingProgress,
		Stage:       stage,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
	}
}

// NewChunkingChunkEvent 单分片完成事件，附带该片提取结果的摘要
func NewChunkingChunkEvent(chunkIndex int, summary string) *ChatEvent {
	return &ChatEvent{Type: EventChunkingChunk, ChunkIndex: chunkIndex, ChunkSummary: summary}
}

// NewResumeEvent 断点恢复事件
func NewResumeEvent(resumedFrom, continueFrom int) *ChatEvent {
	return &ChatEvent{
		Type:              EventResume,
		ResumedFromRound:  resumedFrom,
		ContinueFromRound: continueFrom,
	}
}

// NewSessionCompleteEvent 多智能体完成事件
func NewSessionCompleteEvent(rounds int) *ChatEvent {
	return &ChatEvent{Type: EventSessionComplete, Rounds: rounds}
}
