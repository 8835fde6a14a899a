package storage

import (
	"encoding/json"
	"errors"

	"tlcopt/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned returns the version stamp written with new records.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeSession(s model.SessionRecord) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSession(data []byte) (model.SessionRecord, error) {
	var session model.SessionRecord
	if err := json.Unmarshal(data, &session); err != nil {
		return model.SessionRecord{}, err
	}
	if err := checkVersion(session.VersionedRecord); err != nil {
		return model.SessionRecord{}, err
	}
	return session, nil
}

func EncodeEvaluation(e model.EvaluationRecord) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEvaluation(data []byte) (model.EvaluationRecord, error) {
	var evaluation model.EvaluationRecord
	if err := json.Unmarshal(data, &evaluation); err != nil {
		return model.EvaluationRecord{}, err
	}
	if err := checkVersion(evaluation.VersionedRecord); err != nil {
		return model.EvaluationRecord{}, err
	}
	return evaluation, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
