package autorouter

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/danghamo/proximity/pkg/logger"
)

// HandlerFunc represents the expected handler function signature
type HandlerFunc func(http.ResponseWriter, *http.Request)

// Middleware represents middleware function signature
type Middleware func(http.Handler) http.Handler

// RegistrationOptions configures how handlers are registered
type RegistrationOptions struct {
	Prefix       string       // URL prefix (e.g., "/api/v1/")
	MethodPrefix string       // Method prefix (e.g., "game." -> "game.State")
	Middleware   []Middleware // Middleware chain to apply
	// MethodMiddleware wraps single methods, keyed by Go method name, inside Middleware.
	MethodMiddleware map[string][]Middleware
	Logger           *logger.Logger
}

// AutoRouter handles automatic registration of HTTP handlers using reflection
type AutoRouter struct {
	mux     *http.ServeMux
	options RegistrationOptions
	logger  *logger.Logger
}

// HandlerInfo describes one registered route
type HandlerInfo struct {
	URLPath    string
	MethodName string
}

var (
	errorInterface     = reflect.TypeOf((*error)(nil)).Elem()
	responseWriterType = reflect.TypeOf((*http.ResponseWriter)(nil)).Elem()
	requestType        = reflect.TypeOf((*http.Request)(nil))
)

// NewAutoRouter creates a new auto router
func NewAutoRouter(mux *http.ServeMux, options RegistrationOptions) *AutoRouter {
	log := options.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &AutoRouter{
		mux:     mux,
		options: options,
		logger:  log.WithComponent("autorouter"),
	}
}

// RegisterHandlers registers every exported method of handler that matches
// HandlerFunc as Prefix + MethodPrefix + MethodName.
func (ar *AutoRouter) RegisterHandlers(handler interface{}) ([]HandlerInfo, error) {
	routes, err := ar.routes(handler)
	if err != nil {
		return nil, err
	}

	handlerValue := reflect.ValueOf(handler)
	for _, route := range routes {
		method := handlerValue.MethodByName(route.MethodName)
		ar.mux.Handle(route.URLPath, ar.wrap(route.MethodName, ar.createHandlerFunc(method)))
		ar.logger.Debug("Auto-registered handler",
			zap.String("path", route.URLPath),
			zap.String("method", route.MethodName))
	}

	return routes, nil
}

// RegisterSingleMethod registers one method under a custom path
func (ar *AutoRouter) RegisterSingleMethod(handler interface{}, methodName string, customPath string) error {
	method := reflect.ValueOf(handler).MethodByName(methodName)
	if !method.IsValid() {
		return fmt.Errorf("method %s not found", methodName)
	}
	if !isValidHandlerFunc(method.Type()) {
		return fmt.Errorf("method %s does not match handler signature", methodName)
	}

	fullPath := ar.options.Prefix + customPath
	ar.mux.Handle(fullPath, ar.wrap(methodName, ar.createHandlerFunc(method)))
	ar.logger.Debug("Auto-registered handler (custom path)",
		zap.String("path", fullPath),
		zap.String("method", methodName))
	return nil
}

// Routes lists what RegisterHandlers would register, without registering
func (ar *AutoRouter) Routes(handler interface{}) ([]HandlerInfo, error) {
	return ar.routes(handler)
}

func (ar *AutoRouter) routes(handler interface{}) ([]HandlerInfo, error) {
	handlerType := reflect.TypeOf(handler)
	if handlerType == nil {
		return nil, fmt.Errorf("handler must be a struct or pointer to struct")
	}

	elem := handlerType
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, fmt.Errorf("handler must be a struct or pointer to struct")
	}

	var routes []HandlerInfo
	for i := 0; i < handlerType.NumMethod(); i++ {
		m := handlerType.Method(i)

		// Handle* methods are wired by hand
		if strings.HasPrefix(m.Name, "Handle") {
			continue
		}

		// method set types include the receiver as first input
		if !isValidHandlerFunc(m.Func.Type(), 1) {
			continue
		}

		routes = append(routes, HandlerInfo{
			URLPath:    ar.buildURLPath(m.Name),
			MethodName: m.Name,
		})
	}

	return routes, nil
}

// isValidHandlerFunc checks for func(http.ResponseWriter, *http.Request) [error].
// skip drops leading receiver inputs.
func isValidHandlerFunc(t reflect.Type, skip ...int) bool {
	offset := 0
	if len(skip) > 0 {
		offset = skip[0]
	}

	if t.Kind() != reflect.Func || t.NumIn() != 2+offset {
		return false
	}

	if t.NumOut() > 1 {
		return false
	}
	if t.NumOut() == 1 && !t.Out(0).Implements(errorInterface) {
		return false
	}

	if !t.In(offset).Implements(responseWriterType) {
		return false
	}
	return t.In(offset+1) == requestType
}

func (ar *AutoRouter) buildURLPath(methodName string) string {
	if ar.options.MethodPrefix != "" {
		return ar.options.Prefix + ar.options.MethodPrefix + methodName
	}
	return ar.options.Prefix + strings.ToLower(methodName)
}

func (ar *AutoRouter) createHandlerFunc(method reflect.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := method.Call([]reflect.Value{
			reflect.ValueOf(w),
			reflect.ValueOf(r),
		})

		if len(results) > 0 && !results[0].IsNil() {
			err := results[0].Interface().(error)
			ar.logger.Error("Handler returned error", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// wrap applies method middleware first, then the shared chain; the first
// middleware in a list is the outermost.
func (ar *AutoRouter) wrap(methodName string, handler http.Handler) http.Handler {
	h := chain(handler, ar.options.MethodMiddleware[methodName])
	return chain(h, ar.options.Middleware)
}

func chain(h http.Handler, middleware []Middleware) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// QuickRegister is a convenience function for simple handler registration
func QuickRegister(mux *http.ServeMux, prefix string, methodPrefix string, handler interface{}) error {
	router := NewAutoRouter(mux, RegistrationOptions{
		Prefix:       prefix,
		MethodPrefix: methodPrefix,
	})
	_, err := router.RegisterHandlers(handler)
	return err
}
