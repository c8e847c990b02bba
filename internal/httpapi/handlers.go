package httpapi

import (
	"encoding/json"
	"net/http"

	"soteria-unit/internal/alarm"
	"soteria-unit/internal/models"
	"soteria-unit/internal/store"

	"go.uber.org/zap"
)

// API 设备控制 API。
// 与主循环运行在不同 goroutine 上；所有文档访问都经过 store 的互斥锁串行化。
type API struct {
	store   *store.Store
	alarms  *alarm.Protocol
	silence func()
	logger  *zap.Logger
}

// NewAPI 创建控制 API。silence 是消音钩子（关警笛 + 恢复默认显示），由编排层注入。
func NewAPI(st *store.Store, alarms *alarm.Protocol, silence func(), logger *zap.Logger) *API {
	return &API{
		store:   st,
		alarms:  alarms,
		silence: silence,
		logger:  logger,
	}
}

// configPatch 部分更新载荷：指针字段区分"未提供"与"置空"
type configPatch struct {
	SSID            *string `json:"ssid"`
	Password        *string `json:"password"`
	MachineCode     *string `json:"machine_code"`
	MachineToken    *string `json:"machine_token"`
	BlockName       *string `json:"block_name"`
	CenterName      *string `json:"center_name"`
	NumberOfRooms   *string `json:"number_of_rooms"`
	IsMother        *bool   `json:"is_mother"`
	MotherAddresses *string `json:"mother_addresses"`
	TestMode        *bool   `json:"test_mode"`
}

// GetConfig 返回当前配置文档
func (a *API) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Load())
}

// PutConfig 合并更新：只覆盖请求体里出现的键
func (a *API) PutConfig(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := a.store.Update(func(doc *models.Document) {
		applyPatch(doc, &patch)
	})
	if err != nil {
		a.logger.Error("Failed to update configuration",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to save configuration")
		return
	}

	writeJSON(w, http.StatusOK, a.store.Load())
}

func applyPatch(doc *models.Document, patch *configPatch) {
	if patch.SSID != nil {
		doc.SSID = *patch.SSID
	}
	if patch.Password != nil {
		doc.Password = *patch.Password
	}
	if patch.MachineCode != nil {
		doc.MachineCode = *patch.MachineCode
	}
	if patch.MachineToken != nil {
		doc.MachineToken = *patch.MachineToken
	}
	if patch.BlockName != nil {
		doc.BlockName = *patch.BlockName
	}
	if patch.CenterName != nil {
		doc.CenterName = *patch.CenterName
	}
	if patch.NumberOfRooms != nil {
		doc.NumberOfRooms = *patch.NumberOfRooms
	}
	if patch.IsMother != nil {
		doc.IsMother = *patch.IsMother
	}
	if patch.MotherAddresses != nil {
		doc.MotherAddresses = *patch.MotherAddresses
	}
	if patch.TestMode != nil {
		doc.TestMode = *patch.TestMode
	}
}

// motherAlarmPayload 子机推送的报警
type motherAlarmPayload struct {
	BlockName string `json:"block_name"`
	Room      string `json:"room"`
	Date      string `json:"date"`
	Reference string `json:"reference"`
	Mode      string `json:"mode"`
}

// PutMotherAlarm 接收子机报警并入账；应答携带本机 machine_code
func (a *API) PutMotherAlarm(w http.ResponseWriter, r *http.Request) {
	var payload motherAlarmPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.BlockName == "" || payload.Room == "" {
		writeError(w, http.StatusBadRequest, "block_name and room are required")
		return
	}

	code, err := a.alarms.IngestMotherAlarm(payload.BlockName, payload.Room, payload.Date, payload.Reference, payload.Mode)
	if err != nil {
		a.logger.Error("Failed to ingest mother alarm",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to record alarm")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"machine_code": code})
}

// modePayload test_mode 缺省时为翻转语义
type modePayload struct {
	TestMode *bool `json:"test_mode"`
}

// PutDeviceMode 设置或翻转维护模式
func (a *API) PutDeviceMode(w http.ResponseWriter, r *http.Request) {
	var payload modePayload
	if r.Body != nil {
		// 空请求体也按翻转处理
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}

	var mode string
	err := a.store.Update(func(doc *models.Document) {
		if payload.TestMode != nil {
			doc.TestMode = *payload.TestMode
		} else {
			doc.TestMode = !doc.TestMode
		}
		mode = doc.Mode()
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save configuration")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"mode": mode})
}

// AlarmOff 消音：关警笛、清 ring 标志、恢复默认显示
func (a *API) AlarmOff(w http.ResponseWriter, r *http.Request) {
	if a.silence != nil {
		a.silence()
	}
	if err := a.alarms.ResetRings(); err != nil {
		a.logger.Error("Failed to reset ring flags", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset alarms")
		return
	}
	writeMessage(w, http.StatusOK, "alarms silenced")
}
