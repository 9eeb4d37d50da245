package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/de-tools/usage-meter/pkg/models/api"
	"github.com/de-tools/usage-meter/pkg/models/domain"
	usagestore "github.com/de-tools/usage-meter/pkg/store/postgres/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExplorer struct {
	mock.Mock
}

func (m *mockExplorer) GetDailyUsage(
	ctx context.Context,
	userID string,
	date time.Time,
) (*domain.ConcurrentUsage, error) {
	args := m.Called(ctx, userID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConcurrentUsage), args.Error(1)
}

func (m *mockExplorer) ListUsage(
	ctx context.Context,
	userID string,
	from, to time.Time,
) ([]domain.ConcurrentUsage, error) {
	args := m.Called(ctx, userID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ConcurrentUsage), args.Error(1)
}

func TestWebAPI_Endpoints(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))

	mockExp := new(mockExplorer)
	config := Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		Dependencies: Dependencies{
			Reporting: mockExp,
		},
	}
	router := ConfigureRouter(logger, config)
	testServer := httptest.NewServer(router)
	defer testServer.Close()

	june10 := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	june12 := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		path           string
		setupMocks     func()
		expectedStatus int
		expected       interface{}
		parseResponse  func([]byte) (interface{}, error)
	}{
		{
			name: "GetDailyUsage",
			path: "/api/v1/users/user-1/usage/2025-06-10",
			setupMocks: func() {
				mockExp.On("GetDailyUsage", mock.Anything, "user-1", june10).
					Return(&domain.ConcurrentUsage{
						UserID:    "user-1",
						Date:      june10,
						MaxCount:  2,
						MaxVCPU:   6,
						MaxMemory: 20,
					}, nil)
			},
			expectedStatus: http.StatusOK,
			expected: api.ConcurrentUsage{
				UserID:    "user-1",
				Date:      "2025-06-10",
				MaxCount:  2,
				MaxVCPU:   6,
				MaxMemory: 20,
			},
			parseResponse: unmarshalResponse[api.ConcurrentUsage](),
		},
		{
			name: "GetDailyUsage_InvalidDate",
			path: "/api/v1/users/user-1/usage/not-a-date",
			setupMocks: func() {
			},
			expectedStatus: http.StatusBadRequest,
			expected:       "invalid date, expected YYYY-MM-DD\n",
			parseResponse: func(data []byte) (interface{}, error) {
				return string(data), nil
			},
		},
		{
			name: "GetDailyUsage_NoSnapshot",
			path: "/api/v1/users/user-1/usage/2025-06-11",
			setupMocks: func() {
				mockExp.On("GetDailyUsage", mock.Anything, "user-1",
					time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)).
					Return(nil, usagestore.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expected:       "no usage snapshot for that date\n",
			parseResponse: func(data []byte) (interface{}, error) {
				return string(data), nil
			},
		},
		{
			name: "ListUsage",
			path: "/api/v1/users/user-1/usage?from=2025-06-10&to=2025-06-12",
			setupMocks: func() {
				mockExp.On("ListUsage", mock.Anything, "user-1", june10, june12).
					Return([]domain.ConcurrentUsage{
						{UserID: "user-1", Date: june10, MaxCount: 2, MaxVCPU: 6, MaxMemory: 20},
						{UserID: "user-1", Date: june12, MaxCount: 1, MaxVCPU: 2, MaxMemory: 4},
					}, nil)
			},
			expectedStatus: http.StatusOK,
			expected: []api.ConcurrentUsage{
				{UserID: "user-1", Date: "2025-06-10", MaxCount: 2, MaxVCPU: 6, MaxMemory: 20},
				{UserID: "user-1", Date: "2025-06-12", MaxCount: 1, MaxVCPU: 2, MaxMemory: 4},
			},
			parseResponse: unmarshalResponse[[]api.ConcurrentUsage](),
		},
		{
			name: "ListUsage_InvalidFromDate",
			path: "/api/v1/users/user-1/usage?from=invalid-date",
			setupMocks: func() {
			},
			expectedStatus: http.StatusBadRequest,
			expected:       "invalid from date, expected YYYY-MM-DD\n",
			parseResponse: func(data []byte) (interface{}, error) {
				return string(data), nil
			},
		},
		{
			name: "ListUsage_DefaultRange",
			path: "/api/v1/users/user-1/usage",
			setupMocks: func() {
				now := time.Now().UTC()
				from := now.AddDate(0, 0, -30)
				mockExp.On("ListUsage", mock.Anything, "user-1",
					mock.MatchedBy(func(t time.Time) bool {
						return t.Sub(from).Abs() < time.Minute
					}),
					mock.MatchedBy(func(t time.Time) bool {
						return now.Sub(t).Abs() < time.Minute
					}),
				).Return([]domain.ConcurrentUsage{}, nil)
			},
			expectedStatus: http.StatusOK,
			expected:       []api.ConcurrentUsage{},
			parseResponse:  unmarshalResponse[[]api.ConcurrentUsage](),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMocks()
			resp, err := http.Get(testServer.URL + tc.path)
			require.NoError(t, err, "Failed to send request")
			defer resp.Body.Close()

			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "Status code mismatch")

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err, "Failed to read response body")

			actual, err := tc.parseResponse(body)
			require.NoError(t, err, "Failed to parse response")

			assert.Equal(t, tc.expected, actual)
		})
	}
}

func unmarshalResponse[T any]() func([]byte) (interface{}, error) {
	return func(data []byte) (interface{}, error) {
		var response T
		err := json.Unmarshal(data, &response)
		return response, err
	}
}
