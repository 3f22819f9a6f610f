/*
 * MailTriage - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */

package retry

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Code identifies a network failure that is expected to clear up by itself.
type Code string

const (
	CodeNone        Code = ""
	CodeConnRefused Code = "ECONNREFUSED"
	CodeConnReset   Code = "ECONNRESET"
	CodeTimedOut    Code = "ETIMEDOUT"
	CodeNotFound    Code = "ENOTFOUND"
	CodeTryAgain    Code = "EAI_AGAIN"
)

// CodedError attaches a Code to an error that does not carry one itself,
// e.g. a server hanging up mid-session.
type CodedError struct {
	Code Code
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%v: %v", e.Code, e.Err)
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

func WithCode(code Code, err error) error {
	return &CodedError{Code: code, Err: err}
}

// ErrorCode returns the transient code carried by err, or CodeNone.
func ErrorCode(err error) Code {
	if err == nil {
		return CodeNone
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNABORTED):
		return CodeConnReset
	case errors.Is(err, syscall.ETIMEDOUT), errors.Is(err, os.ErrDeadlineExceeded):
		return CodeTimedOut
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return CodeNotFound
		case dnsErr.IsTemporary, dnsErr.IsTimeout:
			return CodeTryAgain
		}
		return CodeNone
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimedOut
	}

	return CodeNone
}

func IsTransient(err error) bool {
	return ErrorCode(err) != CodeNone
}
