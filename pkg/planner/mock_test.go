package planner

// mockLogger is a mock implementation of logger.Logger for testing
type mockLogger struct {
	downloadCalls []downloadCall
	skipCalls     []skipCall
	errorCalls    []errorCall
	debugCalls    []string
}

type downloadCall struct {
	source string
	dest   string
}

type skipCall struct {
	path   string
	reason string
}

type errorCall struct {
	operation string
	path      string
	err       error
}

func (m *mockLogger) Download(source, dest string) {
	m.downloadCalls = append(m.downloadCalls, downloadCall{source, dest})
}

func (m *mockLogger) Skip(path, reason string) {
	m.skipCalls = append(m.skipCalls, skipCall{path, reason})
}

func (m *mockLogger) Error(operation, path string, err error) {
	m.errorCalls = append(m.errorCalls, errorCall{operation, path, err})
}

func (m *mockLogger) Debug(message string, args ...any) {
	m.debugCalls = append(m.debugCalls, message)
}

func (m *mockLogger) skipped(reason string) []string {
	var paths []string
	for _, c := range m.skipCalls {
		if c.reason == reason {
			paths = append(paths, c.path)
		}
	}
	return paths
}
