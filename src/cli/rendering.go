package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/chaw1/incubator-iotdb/src/logging"
	"github.com/chaw1/incubator-iotdb/src/metadata"
	"github.com/chaw1/incubator-iotdb/src/node"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// renderedLogTail caps how many trailing entries show per node.
const renderedLogTail = 8

func renderNodesState(context *appContext, textView *tview.TextView) {
	context.mutex.Lock()
	nodeIds := append([]uint(nil), context.nodeIds...)
	members := make([]*node.Node, len(nodeIds))
	for i, nodeId := range nodeIds {
		members[i] = context.nodesById[nodeId]
	}
	context.mutex.Unlock()

	writer := textView.BatchWriter()
	writer.Clear()
	defer writer.Close()

	for _, member := range members {
		status := node.HandleQueryNodeStatus(member).Status
		exiled := ""
		if status.Exiled {
			exiled = "  EXILED"
		}
		fmt.Fprintf(writer, "NODE: %d  ROLE: %10s  TERM: %2d  COMMIT: %2d  APPLIED: %2d%s\n",
			status.Node.ID,
			roleToString(status.Role),
			status.Term,
			status.CommitIndex,
			status.LastApplied,
			exiled,
		)
		fmt.Fprintf(writer, "LOG: %s\n", logTailToString(member, status.LastLogIndex))
		fmt.Fprintf(writer, "META: %s\n\n", storageGroupsToString(member.Metadata.StorageGroups()))
	}
}

func logTailToString(member *node.Node, lastIndex uint64) string {
	from := uint64(1)
	if lastIndex > renderedLogTail {
		from = lastIndex - renderedLogTail + 1
	}

	entries, err := member.Log.EntriesFrom(from, renderedLogTail)
	if err != nil {
		snapshotIndex, snapshotTerm := member.Log.SnapshotBounds()
		entries, _ = member.Log.EntriesFrom(snapshotIndex+1, renderedLogTail)
		return fmt.Sprintf("[SNAPSHOT I:%d T:%d]%s", snapshotIndex, snapshotTerm, logEntriesToString(entries))
	}
	if from > 1 {
		return "..." + logEntriesToString(entries)
	}
	return logEntriesToString(entries)
}

func logEntriesToString(entries []raft_state.LogEntry) string {
	var builder strings.Builder
	for _, entry := range entries {
		switch entry.Type {
		case raft_state.EntryAddNode:
			fmt.Fprintf(&builder, "[I:%d T:%d +NODE %d]", entry.Index, entry.Term, entry.Node.ID)
		case raft_state.EntryRemoveNode:
			fmt.Fprintf(&builder, "[I:%d T:%d -NODE %d]", entry.Index, entry.Term, entry.Node.ID)
		default:
			fmt.Fprintf(&builder, "[I:%d T:%d C:'%s']", entry.Index, entry.Term, entry.Command)
		}
	}
	return builder.String()
}

func storageGroupsToString(groups []metadata.StorageGroup) string {
	if len(groups) == 0 {
		return "(no storage groups)"
	}

	parts := make([]string, len(groups))
	for i, group := range groups {
		parts[i] = fmt.Sprintf("%s(ttl:%d)", group.Name, group.TTLSeconds)
	}
	return strings.Join(parts, " ")
}

func renderLogs(logs chan logging.LoggerEntry, textView *tview.TextView, quit chan struct{}) {
	start := time.Now()
	for {
		select {
		case entry := <-logs:
			writer := textView.BatchWriter()
			prefix := formatTimestamp(start, entry.Timestamp)
			for _, message := range entry.Messages {
				fmt.Fprintf(writer, "%s %s\n", prefix, message)
				prefix = strings.Repeat(" ", len(prefix))
			}
			writer.Close()
		case <-quit:
			return
		}
	}
}

func formatTimestamp(start time.Time, end time.Time) string {
	diff := end.Sub(start)
	return fmt.Sprintf("[%02d:%02d:%04d]", int(diff.Minutes()), int(diff.Seconds()), diff.Milliseconds())
}

func roleToString(role raft_state.NodeRole) string {
	switch role {
	case raft_state.Leader:
		return "LEADER"
	case raft_state.Follower:
		return "FOLLOWER"
	case raft_state.Candidate:
		return "CANDIDATE"
	default:
		return "UNKNOWN"
	}
}
