package server

import (
	"context"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"sitekeeper/internal/server/interceptors"
)

// AccessServiceName is the fully qualified gRPC service name of the decision API.
const AccessServiceName = "sitekeeper.access.v1.AccessService"

const (
	checkPermissionMethod  = "/" + AccessServiceName + "/CheckPermission"
	checkPermissionsMethod = "/" + AccessServiceName + "/CheckPermissions"
	isBlacklistedMethod    = "/" + AccessServiceName + "/IsBlacklisted"
)

// checkOthersPermission lets a caller ask about a user other than itself.
const checkOthersPermission = "users.read_roles"

// Match modes accepted by CheckPermissions.
const (
	MatchAll = "all"
	MatchAny = "any"
)

// PermissionChecker answers whether a user currently holds a permission or a set of them.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, userID, permission string) (bool, error)
	CheckAny(ctx context.Context, userID string, permissions ...string) (bool, error)
	CheckAll(ctx context.Context, userID string, permissions ...string) (bool, error)
}

// BlacklistChecker reports whether a token id has been revoked.
type BlacklistChecker interface {
	IsBlacklisted(jti string) bool
}

// AccessServiceServer is the server API for AccessService.
type AccessServiceServer interface {
	CheckPermission(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	CheckPermissions(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	IsBlacklisted(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
}

// AccessServer lets other site services delegate permission and revocation decisions.
type AccessServer struct {
	checker   PermissionChecker
	blacklist BlacklistChecker
}

// NewAccessServer returns an AccessServer. A nil dependency makes its RPC return Unimplemented.
func NewAccessServer(checker PermissionChecker, blacklist BlacklistChecker) *AccessServer {
	return &AccessServer{checker: checker, blacklist: blacklist}
}

// CheckPermission expects {"permission": "...", "user_id": "..."}; user_id defaults to the caller.
// Checker failures answer false.
func (s *AccessServer) CheckPermission(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	if s.checker == nil {
		return nil, status.Error(codes.Unimplemented, "method CheckPermission not implemented")
	}
	permission := req.GetFields()["permission"].GetStringValue()
	if permission == "" {
		return nil, status.Error(codes.InvalidArgument, "permission required")
	}
	userID, err := s.subject(ctx, req)
	if err != nil {
		return nil, err
	}
	allowed, err := s.checker.CheckPermission(ctx, userID, permission)
	if err != nil {
		log.Printf("access: check %s for %s: %v", permission, userID, err)
		return wrapperspb.Bool(false), nil
	}
	return wrapperspb.Bool(allowed), nil
}

// CheckPermissions expects {"permissions": [...], "match": "all"|"any", "user_id": "..."}.
// match defaults to all and user_id to the caller. Checker failures answer false.
func (s *AccessServer) CheckPermissions(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	if s.checker == nil {
		return nil, status.Error(codes.Unimplemented, "method CheckPermissions not implemented")
	}
	fields := req.GetFields()
	var permissions []string
	for _, v := range fields["permissions"].GetListValue().GetValues() {
		if p := v.GetStringValue(); p != "" {
			permissions = append(permissions, p)
		}
	}
	if len(permissions) == 0 {
		return nil, status.Error(codes.InvalidArgument, "permissions required")
	}
	check := s.checker.CheckAll
	switch match := fields["match"].GetStringValue(); match {
	case "", MatchAll:
	case MatchAny:
		check = s.checker.CheckAny
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown match %q", match)
	}
	userID, err := s.subject(ctx, req)
	if err != nil {
		return nil, err
	}
	allowed, err := check(ctx, userID, permissions...)
	if err != nil {
		log.Printf("access: check %v for %s: %v", permissions, userID, err)
		return wrapperspb.Bool(false), nil
	}
	return wrapperspb.Bool(allowed), nil
}

// subject resolves the user a check is about. Asking about another user needs checkOthersPermission.
func (s *AccessServer) subject(ctx context.Context, req *structpb.Struct) (string, error) {
	caller, err := interceptors.RequireUser(ctx)
	if err != nil {
		return "", err
	}
	userID := req.GetFields()["user_id"].GetStringValue()
	if userID == "" || userID == caller {
		return caller, nil
	}
	if _, err := interceptors.RequirePermission(ctx, s.checker, checkOthersPermission); err != nil {
		return "", err
	}
	return userID, nil
}

// IsBlacklisted reports whether the given token id has been revoked.
func (s *AccessServer) IsBlacklisted(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s.blacklist == nil {
		return nil, status.Error(codes.Unimplemented, "method IsBlacklisted not implemented")
	}
	jti := req.GetValue()
	if jti == "" {
		return nil, status.Error(codes.InvalidArgument, "token id required")
	}
	return wrapperspb.Bool(s.blacklist.IsBlacklisted(jti)), nil
}

// AccessServiceDesc describes AccessService for grpc.ServiceRegistrar.RegisterService.
var AccessServiceDesc = grpc.ServiceDesc{
	ServiceName: AccessServiceName,
	HandlerType: (*AccessServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckPermission", Handler: checkPermissionHandler},
		{MethodName: "CheckPermissions", Handler: checkPermissionsHandler},
		{MethodName: "IsBlacklisted", Handler: isBlacklistedHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sitekeeper/access/v1/access.proto",
}

// RegisterAccessServiceServer registers srv with s.
func RegisterAccessServiceServer(s grpc.ServiceRegistrar, srv AccessServiceServer) {
	s.RegisterService(&AccessServiceDesc, srv)
}

func checkPermissionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessServiceServer).CheckPermission(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkPermissionMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AccessServiceServer).CheckPermission(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func checkPermissionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessServiceServer).CheckPermissions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkPermissionsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AccessServiceServer).CheckPermissions(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func isBlacklistedHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessServiceServer).IsBlacklisted(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: isBlacklistedMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AccessServiceServer).IsBlacklisted(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// AccessClient calls AccessService on a remote sitekeeper.
type AccessClient struct {
	cc grpc.ClientConnInterface
}

// NewAccessClient returns a client over cc.
func NewAccessClient(cc grpc.ClientConnInterface) *AccessClient {
	return &AccessClient{cc: cc}
}

// CheckPermission asks whether userID holds permission. An empty userID means the caller.
func (c *AccessClient) CheckPermission(ctx context.Context, userID, permission string, opts ...grpc.CallOption) (bool, error) {
	fields := map[string]interface{}{"permission": permission}
	if userID != "" {
		fields["user_id"] = userID
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return false, err
	}
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, checkPermissionMethod, in, out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// CheckAny asks whether userID holds at least one of permissions.
func (c *AccessClient) CheckAny(ctx context.Context, userID string, permissions []string, opts ...grpc.CallOption) (bool, error) {
	return c.checkPermissions(ctx, userID, MatchAny, permissions, opts...)
}

// CheckAll asks whether userID holds every one of permissions.
func (c *AccessClient) CheckAll(ctx context.Context, userID string, permissions []string, opts ...grpc.CallOption) (bool, error) {
	return c.checkPermissions(ctx, userID, MatchAll, permissions, opts...)
}

func (c *AccessClient) checkPermissions(ctx context.Context, userID, match string, permissions []string, opts ...grpc.CallOption) (bool, error) {
	list := make([]interface{}, len(permissions))
	for i, p := range permissions {
		list[i] = p
	}
	fields := map[string]interface{}{"permissions": list, "match": match}
	if userID != "" {
		fields["user_id"] = userID
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return false, err
	}
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, checkPermissionsMethod, in, out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// IsBlacklisted asks whether the token id has been revoked.
func (c *AccessClient) IsBlacklisted(ctx context.Context, jti string, opts ...grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, isBlacklistedMethod, wrapperspb.String(jti), out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}
