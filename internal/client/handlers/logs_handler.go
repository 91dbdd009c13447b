package handlers

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	logTimeRe  = regexp.MustCompile(`time=(\S+)`)
	logLevelRe = regexp.MustCompile(`level=(\S+)`)
	logMsgRe   = regexp.MustCompile(`msg=("(?:[^"\\]|\\.)*"|\S+)`)
)

// LogsHandler pages through the daemon log file
type LogsHandler struct {
	logFilePath string
}

// NewLogsHandler creates a new handler for logs
func NewLogsHandler(logFilePath string) *LogsHandler {
	return &LogsHandler{logFilePath: logFilePath}
}

// GetLogs godoc
//
//	@Summary		Get logs
//	@Description	Get daemon logs with pagination support
//	@Tags			logs
//	@Produce		json
//	@Param			startingToken	query		int	false	"Number of bytes to skip"			default(0)
//	@Param			maxResults		query		int	false	"Maximum number of lines to read"	default(100)
//	@Success		200				{object}	LogsResponse
//	@Failure		400				{object}	ControlPlaneError
//	@Failure		500				{object}	ControlPlaneError
//	@Router			/v1/logs [get]
//	@Security		APIToken
func (h *LogsHandler) GetLogs(c *gin.Context) {
	params := LogsRequest{MaxResults: 100}
	if err := c.ShouldBindQuery(&params); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeLogsRetrievalFailed, errors.New("invalid query parameters: "+err.Error()))
		return
	}

	logs, next, hasMore, err := h.readLogs(params.StartingToken, params.MaxResults)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeLogsRetrievalFailed, err)
		return
	}

	c.PureJSON(http.StatusOK, &LogsResponse{
		Logs:      logs,
		NextToken: next,
		HasMore:   hasMore,
	})
}

// readLogs parses up to maxResults entries starting at byte offset start.
// The returned token is the offset of the first unread line.
func (h *LogsHandler) readLogs(start int64, maxResults int) ([]LogEntry, int64, bool, error) {
	logs := []LogEntry{}

	file, err := os.Open(h.logFilePath)
	if errors.Is(err, os.ErrNotExist) {
		return logs, 0, false, nil
	} else if err != nil {
		return nil, 0, false, err
	}
	defer file.Close()

	if start > 0 {
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			return nil, 0, false, err
		}
	}

	reader := bufio.NewReader(file)
	offset := start
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && !strings.HasSuffix(line, "\n") {
			// partial line still being written
			break
		}
		if len(line) > 0 {
			if len(logs) == maxResults {
				return logs, offset, true, nil
			}
			offset += int64(len(line))
			if entry, ok := parseLogLine(strings.TrimRight(line, "\r\n")); ok {
				logs = append(logs, entry)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, 0, false, err
		}
	}

	return logs, offset, false, nil
}

func parseLogLine(line string) (LogEntry, bool) {
	timeMatch := logTimeRe.FindStringSubmatch(line)
	levelMatch := logLevelRe.FindStringSubmatch(line)
	msgMatch := logMsgRe.FindStringSubmatchIndex(line)
	if timeMatch == nil || levelMatch == nil || msgMatch == nil {
		return LogEntry{}, false
	}

	message := line[msgMatch[2]:msgMatch[3]]
	if unquoted, err := strconv.Unquote(message); err == nil {
		message = unquoted
	}
	if rest := strings.TrimSpace(line[msgMatch[1]:]); rest != "" {
		message += " " + rest
	}

	return LogEntry{
		Timestamp: timeMatch[1],
		Level:     toLogLevel(levelMatch[1]),
		Message:   message,
	}, true
}

func toLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}
