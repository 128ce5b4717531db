package modbus

import "fmt"

// ExceptionCode is the code a device places in an exception response to
// report why it rejected a request.
type ExceptionCode byte

const (
	ExceptionIllegalFunction        ExceptionCode = 0x01
	ExceptionIllegalDataAddress     ExceptionCode = 0x02
	ExceptionIllegalDataValue       ExceptionCode = 0x03
	ExceptionServerDeviceFailure    ExceptionCode = 0x04
	ExceptionAcknowledge            ExceptionCode = 0x05
	ExceptionServerDeviceBusy       ExceptionCode = 0x06
	ExceptionMemoryParityError      ExceptionCode = 0x08
	ExceptionGatewayPathUnavailable ExceptionCode = 0x0A
	ExceptionGatewayTargetFailed    ExceptionCode = 0x0B
)

// String returns the name of the exception code.
func (ec ExceptionCode) String() string {
	switch ec {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionServerDeviceBusy:
		return "server device busy"
	case ExceptionMemoryParityError:
		return "memory parity error"
	case ExceptionGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionGatewayTargetFailed:
		return "gateway target device failed to respond"
	default:
		return fmt.Sprintf("unknown exception 0x%02X", byte(ec))
	}
}

// ExceptionError is the error returned when a device answers a request with
// a Modbus exception response instead of a normal response.
type ExceptionError struct {
	// Code is the function code of the rejected request.
	Code FunctionCode
	// Exception is the reason the device reported.
	Exception ExceptionCode
}

// Error implements the error interface.
func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception %q (0x%02X) for function %s", e.Exception, byte(e.Exception), e.Code)
}

// NewExceptionResponse builds the exception response PDU for a request
// function code. The response code is the request code with the high bit set,
// and the payload is the single exception code byte.
func NewExceptionResponse(code FunctionCode, ec ExceptionCode) PDU {
	return PDU{Code: code | exceptionBit, Data: []byte{byte(ec)}}
}

// ParseExceptionResponse decodes an exception response into an
// *ExceptionError. It reports false when the PDU is not an exception
// response.
func ParseExceptionResponse(rsp PDU) (*ExceptionError, bool) {
	if !rsp.Code.IsException() {
		return nil, false
	}

	exc := &ExceptionError{Code: rsp.Code.Base()}
	if len(rsp.Data) > 0 {
		exc.Exception = ExceptionCode(rsp.Data[0])
	}

	return exc, true
}
