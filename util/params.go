package util

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
)

// EncodeParams serialize job params as json, map keys are sorted so equal params encode equally
func EncodeParams(params map[string]interface{}) (string, error) {
	if params == nil {
		return "{}", nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeParams parse params stored by EncodeParams, an empty string gives empty params
func DecodeParams(str string) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if str == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(str), &params); err != nil {
		return nil, err
	}
	return params, nil
}

// Fingerprint md5 of name and encoded params, identifying a job run with the same input
func Fingerprint(name string, params map[string]interface{}) (string, error) {
	str, err := EncodeParams(params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(name+":"+str))), nil
}
