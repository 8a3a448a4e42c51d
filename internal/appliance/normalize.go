package appliance

import "vpnsentry/pkg/models"

// ExtractRecords flattens a fetch-results response into raw records. The
// envelope shape varies between firmware revisions: the result member may be
// an object or a one-element list, and some responses carry data at the top
// level. Unrecognized shapes yield no records.
func ExtractRecords(resp map[string]interface{}) []models.RawRecord {
	if resp == nil {
		return nil
	}
	if result := firstResult(resp); result != nil {
		if recs := recordList(result["data"]); recs != nil {
			return recs
		}
	}
	return recordList(resp["data"])
}

func recordList(v interface{}) []models.RawRecord {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.RawRecord, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, models.RawRecord(m))
		}
	}
	return out
}
