package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	RequestIDMiddleware(r.mux).ServeHTTP(w, req)
}

// RegisterAPIRoutes 注册设备控制 API 路由
func (r *Router) RegisterAPIRoutes(api *API) {
	// 配置读写
	r.Handle("/api/config", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			api.GetConfig(w, req)
		case http.MethodPut:
			api.PutConfig(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// 母机报警接收（子机扇出的对端）
	r.Handle("/api/mother/alarm", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		api.PutMotherAlarm(w, req)
	})

	// 模式切换
	r.Handle("/api/device/mode", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		api.PutDeviceMode(w, req)
	})

	// 消音
	r.Handle("/api/alarm/off", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		api.AlarmOff(w, req)
	})
}
