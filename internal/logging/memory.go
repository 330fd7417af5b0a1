package logging

import "sync"

// Entry is one captured log line.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

// Memory keeps log entries in memory. It backs tests that assert on what was logged.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

var _ Logger = (*Memory)(nil)

func (m *Memory) Debug(msg string, keyvals ...interface{}) { m.add("DEBUG", msg, keyvals) }
func (m *Memory) Info(msg string, keyvals ...interface{})  { m.add("INFO", msg, keyvals) }
func (m *Memory) Warn(msg string, keyvals ...interface{})  { m.add("WARN", msg, keyvals) }
func (m *Memory) Error(msg string, keyvals ...interface{}) { m.add("ERROR", msg, keyvals) }

func (m *Memory) add(level, msg string, keyvals []interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Level: level, Message: msg, Fields: fields(keyvals)})
}

// Entries returns a copy of everything logged so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Find returns the entries logged with msg.
func (m *Memory) Find(msg string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}
