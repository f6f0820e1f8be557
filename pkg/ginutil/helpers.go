package ginutil

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// QueryInt extracts an integer from query parameters with default value
func QueryInt(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// ParamUint64 extracts an unsigned ID from path parameters
func ParamUint64(c *gin.Context, key string) (uint64, error) {
	return strconv.ParseUint(c.Param(key), 10, 64)
}
