package intelligence

import (
	"encoding/json"
	"fmt"
	"time"
)

// factExtractionPrompt is the system prompt for turning a conversation into
// distinct, self-contained facts.
func factExtractionPrompt(now time.Time) string {
	today := now.Format("2006-01-02")
	return fmt.Sprintf(`You are a Personal Information Organizer. Extract relevant facts, preferences, intentions, and needs from conversations into distinct, manageable facts.

Information types: personal preferences, details (names, relationships, dates), plans, intentions, needs, requests, activities, health, professional, miscellaneous.

Rules:
1. TEMPORAL: always keep time information in the fact ("Went to Hawaii in May 2023", not "Went to Hawaii"). Preserve relative references like "yesterday" as written.
2. COMPLETE: each fact must be self-contained with who/what/when/where when available.
3. SEPARATE: distinct facts become separate entries, especially across different time periods.
4. INTENTIONS: always extract intentions, needs, and requests even without time information.

Examples:
Input: Hi.
Output: {"facts": []}

Input: Yesterday, I met John at 3pm. We discussed the project.
Output: {"facts": ["Met John at 3pm yesterday", "Discussed project with John yesterday"]}

Input: I'm Ana, a data engineer, and I want to book a cardiologist appointment.
Output: {"facts": ["Name is Ana", "Ana is a data engineer", "Wants to book a cardiologist appointment"]}

Today: %s
Return only JSON of the form {"facts": ["fact1", "fact2"]}. Extract from user and assistant messages only. If nothing is worth keeping, return {"facts": []}. Preserve the input language.

Extract facts from the conversation below:`, today)
}

// strictJSONReminder is appended on the retry after an unparseable reply.
const strictJSONReminder = "Your previous reply was not valid JSON. Respond with a single valid JSON object and nothing else."

// reconcilePrompt asks the model to reconcile new facts against existing
// neighbor memories. Neighbor ids are positional, remapped to real ids by
// the caller.
func reconcilePrompt(facts []string, neighbors []neighborView) string {
	neighborsJSON, _ := json.Marshal(neighbors)
	factsJSON, _ := json.Marshal(facts)

	return fmt.Sprintf(`You are a Personal Information Organizer. You create, update, or delete memories based on new facts and existing memories.

# Existing Memories
%s

# New Facts
%s

# Actions
- ADD: the fact is novel and overlaps no existing memory
- UPDATE: the fact adds to or corrects an existing memory; merge into one complete, self-contained text
- DELETE: an existing memory is contradicted or invalidated by the new facts
- NONE: the fact is already captured or not worth storing

# Guidelines
1. Mark duplicates as NONE.
2. When updating, the merged memory must stand on its own.
3. Preserve time references exactly.
4. For UPDATE and DELETE, "id" must be an id from the existing memories above.

# Output (JSON only)
{
  "memory": [
    {"id": "0", "text": "merged memory text", "event": "UPDATE", "old_memory": "previous text"},
    {"text": "new memory text", "event": "ADD"},
    {"id": "2", "event": "DELETE"},
    {"text": "duplicate fact", "event": "NONE"}
  ]
}

Now analyze the facts and provide your decision:`, string(neighborsJSON), string(factsJSON))
}

// neighborView is how an existing memory appears in the reconcile prompt.
type neighborView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}
