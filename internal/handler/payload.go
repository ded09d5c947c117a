package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"taskhub/internal/apperr"
)

const maxBodyBytes = 1 << 20

// arrayFields 表单中总是按数组解析的字段
var arrayFields = map[string]bool{"pendingTasks": true}

// decodeFields 把 JSON 或表单请求体解码为字段表。
// JSON 数字保留为 json.Number，表单中以 [] 结尾的键解析为数组。
func decodeFields(c *gin.Context) (map[string]any, error) {
	contentType := c.ContentType()
	if contentType == gin.MIMEPOSTForm || contentType == gin.MIMEMultipartPOSTForm {
		return decodeForm(c)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Validation("Invalid request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, apperr.Validation("Invalid JSON body")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, apperr.Validation("Invalid JSON body")
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func decodeForm(c *gin.Context) (map[string]any, error) {
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		if err := c.Request.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, apperr.Validation("Invalid form body")
		}
	} else if err := c.Request.ParseForm(); err != nil {
		return nil, apperr.Validation("Invalid form body")
	}

	fields := make(map[string]any, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		name := strings.TrimSuffix(key, "[]")
		if name != key || arrayFields[name] {
			list, _ := fields[name].([]any)
			for _, v := range values {
				list = append(list, v)
			}
			fields[name] = list
			continue
		}
		if len(values) > 0 {
			fields[name] = values[0]
		}
	}
	return fields, nil
}
