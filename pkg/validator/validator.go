package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"kelvin-core/pkg/currency"
)

var validate *validator.Validate

// Init 向 gin 的 binding 引擎注册自定义校验 (pubkey)
func Init() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding engine is not go-playground/validator")
	}
	if err := v.RegisterValidation("pubkey", validatePubkey); err != nil {
		return err
	}
	validate = v
	return nil
}

// pubkey: 04 + 128 位十六进制, 且是 secp256k1 上的点
func validatePubkey(fl validator.FieldLevel) bool {
	_, err := currency.ParsePubkey(fl.Field().String())
	return err == nil
}

// GetErrorMsg translates validation errors into user-friendly messages
func GetErrorMsg(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		if err != nil {
			return "请求参数错误: " + err.Error()
		}
		return "请求参数错误"
	}
	var errMsgs []string
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 不能为空", field))
		case "pubkey":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是 04 开头的 130 位十六进制公钥", field))
		case "hexadecimal":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是十六进制", field))
		case "max":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 不能超过 %s", field, e.Param()))
		case "oneof":
			errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是 [%s] 之一", field, e.Param()))
		default:
			errMsgs = append(errMsgs, fmt.Sprintf("%s 校验失败 (%s)", field, e.Tag()))
		}
	}
	return strings.Join(errMsgs, "; ")
}
